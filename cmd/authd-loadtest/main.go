// Command authd-loadtest measures engine throughput against Redis and an
// in-memory SQLite directory. It logs in a pool of wallets, then runs a
// validate phase (token only) and a current-user phase (token plus
// directory lookup).
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/directory/sqlite"
	"github.com/MrEthical07/walletauth/mailer"
)

func main() {
	var (
		wallets     = flag.Int("wallets", 2000, "number of wallets to log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per read phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "walb", "redis key prefix")
	)
	flag.Parse()

	if *wallets <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "wallets, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, mr.Close)
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, PoolSize: *concurrency})
	cleanup = append(cleanup, func() { _ = client.Close() })

	dir, err := sqlite.Open(ctx, ":memory:", zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open directory: %v\n", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, func() { _ = dir.Close() })

	cfg := walletauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-secret-loadtest-secret-!")
	cfg.Store.RedisPrefix = *prefix
	cfg.RateLimit.EnableIPThrottle = false
	cfg.Audit.Enabled = false

	engine, err := walletauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(dir).
		WithMailer(mailer.NewLog(zap.NewNop())).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, engine.Close)

	keys := make([]*ecdsa.PrivateKey, *wallets)
	for i := range keys {
		if keys[i], err = crypto.GenerateKey(); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
	}

	tokens := make([]string, *wallets)
	loginStats := runLoginPhase(ctx, engine, keys, tokens, *concurrency)
	if loginStats.failures > 0 {
		fmt.Fprintf(os.Stderr, "%d logins failed; read phases skip those wallets\n", loginStats.failures)
	}
	live := tokens[:0:0]
	for _, tok := range tokens {
		if tok != "" {
			live = append(live, tok)
		}
	}
	if len(live) == 0 {
		fmt.Fprintln(os.Stderr, "no wallet logged in")
		os.Exit(1)
	}

	validateStats := runReadPhase(ctx, live, *ops, *concurrency, 7919, func(ctx context.Context, tok string) error {
		_, err := engine.ValidateSession(ctx, tok)
		return err
	})
	currentStats := runReadPhase(ctx, live, *ops, *concurrency, 6151, func(ctx context.Context, tok string) error {
		_, err := engine.CurrentUser(ctx, tok)
		return err
	})

	fmt.Println("---- results ----")
	printStats("wallet-login", loginStats)
	printStats("validate", validateStats)
	printStats("current-user", currentStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("provisioned=%d sessions=%d\n",
		snap.Counters[walletauth.MetricUserProvisioned],
		snap.Counters[walletauth.MetricSessionIssued],
	)
}

// runLoginPhase runs challenge, sign and verify once per wallet.
func runLoginPhase(ctx context.Context, engine *walletauth.Engine, keys []*ecdsa.PrivateKey, tokens []string, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(keys))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(keys) {
					return
				}
				t0 := time.Now()
				tok, err := walletLogin(ctx, engine, keys[i])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					tokens[i] = tok
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func walletLogin(ctx context.Context, engine *walletauth.Engine, key *ecdsa.PrivateKey) (string, error) {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	ch, err := engine.RequestWalletChallenge(ctx, address)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	res, err := engine.VerifyWalletSignature(ctx, address, hexutil.Encode(sig))
	if err != nil {
		return "", err
	}
	return res.Token, nil
}

func runReadPhase(ctx context.Context, tokens []string, ops, concurrency int, seed int64, op func(context.Context, string) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				tok := tokens[r.Intn(len(tokens))]
				t0 := time.Now()
				err := op(ctx, tok)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
