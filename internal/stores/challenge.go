package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/walletauth/internal/ephemeral"
	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1

	maxMessageLen = 4096
)

// Purpose separates challenge namespaces so a secret issued for one purpose can
// never satisfy a check for another.
type Purpose uint8

const (
	PurposeLoginEmail Purpose = iota + 1
	PurposeEmailVerification
	PurposeLoginWallet
	PurposeWalletLink
)

func (p Purpose) String() string {
	switch p {
	case PurposeLoginEmail:
		return "login-email"
	case PurposeEmailVerification:
		return "email-verification"
	case PurposeLoginWallet:
		return "login-wallet"
	case PurposeWalletLink:
		return "wallet-link"
	default:
		return "unknown"
	}
}

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeMismatch         = errors.New("challenge secret mismatch")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeUnavailable      = errors.New("challenge store unavailable")
	ErrChallengeInvalid          = errors.New("invalid challenge record")
)

// MismatchError reports a wrong secret together with the attempts still allowed.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: %d attempts remaining", ErrChallengeMismatch, e.Remaining)
}

func (e *MismatchError) Unwrap() error { return ErrChallengeMismatch }

// consumeChallengeLua atomically performs GET→validate→DEL/SET on a challenge record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = expected purpose (byte)
// ARGV[3] = max attempts (int string)
// ARGV[4] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	{attempts} table on mismatch (attempts after increment)
//	error string: "not_found", "expired", "purpose_mismatch", "attempts_exceeded"
var consumeChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local expectedPurpose = tonumber(ARGV[2])
local maxAttempts = tonumber(ARGV[3])
local nowUnix = tonumber(ARGV[4])

-- Layout: version(1) purpose(1) attempts(2) expiresAt(8) userIDLen(2) userID hash(32) msgLen(2) msg
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local purpose = string.byte(data, 2)
local attempts = string.byte(data, 3) * 256 + string.byte(data, 4)

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 5, 12)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if purpose ~= expectedPurpose then
  return {err='purpose_mismatch'}
end

local userIDLen = string.byte(data, 13) * 256 + string.byte(data, 14)
local hashOffset = 15 + userIDLen
local storedHash = string.sub(data, hashOffset, hashOffset + 31)

if storedHash ~= providedHash then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1])
    return {err='attempts_exceeded'}
  end
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  local newData = string.sub(data, 1, 2) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 5)
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  return {attempts}
end

redis.call('DEL', KEYS[1])
return data
`)

// ChallengeRecord is a pending proof request bound to a subject (email or wallet address).
type ChallengeRecord struct {
	Purpose    Purpose
	Attempts   uint16
	ExpiresAt  int64
	UserID     string
	SecretHash [32]byte
	// Message is the exact text a wallet is asked to sign; empty for OTPs.
	Message string

	raw []byte
}

// ChallengeStore persists at most one pending challenge per (purpose, subject).
type ChallengeStore struct {
	store *ephemeral.Store
	now   func() time.Time
}

// NewChallengeStore returns a store writing through s.
func NewChallengeStore(s *ephemeral.Store) *ChallengeStore {
	return &ChallengeStore{store: s, now: time.Now}
}

func (s *ChallengeStore) key(purpose Purpose, subject string) string {
	return s.store.Key("ch", purpose.String(), subject)
}

// Save writes record under (purpose, subject), replacing any earlier challenge.
// record.ExpiresAt is derived from ttl.
func (s *ChallengeStore) Save(ctx context.Context, subject string, record *ChallengeRecord, ttl time.Duration) error {
	if record == nil || subject == "" {
		return ErrChallengeInvalid
	}
	record.ExpiresAt = s.now().Add(ttl).Unix()
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.key(record.Purpose, subject), encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	record.raw = encoded
	return nil
}

// ConsumeSecret verifies providedHash against the stored secret and deletes the
// record on success. A wrong secret burns one attempt; reaching maxAttempts
// deletes the record.
func (s *ChallengeStore) ConsumeSecret(
	ctx context.Context,
	purpose Purpose,
	subject string,
	providedHash [32]byte,
	maxAttempts int,
) (*ChallengeRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	result, err := s.store.Run(ctx, consumeChallengeLua,
		[]string{s.key(purpose, subject)},
		string(providedHash[:]),
		int(purpose),
		maxAttempts,
		s.now().Unix(),
	)
	if err != nil {
		switch err.Error() {
		case "not_found", "expired", "purpose_mismatch":
			return nil, ErrChallengeNotFound
		case "attempts_exceeded":
			return nil, ErrChallengeAttemptsExceeded
		default:
			return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
		}
	}

	switch v := result.(type) {
	case []interface{}:
		attempts, _ := firstInt(v)
		return nil, &MismatchError{Remaining: maxAttempts - int(attempts)}
	case string:
		record, decErr := decodeChallengeRecord([]byte(v))
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, decErr)
		}
		// Lua string comparison is not constant-time.
		if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
			return nil, ErrChallengeMismatch
		}
		return record, nil
	default:
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrChallengeUnavailable)
	}
}

// Peek returns the pending record without consuming it.
func (s *ChallengeStore) Peek(ctx context.Context, purpose Purpose, subject string) (*ChallengeRecord, error) {
	data, err := s.store.Get(ctx, s.key(purpose, subject))
	if err != nil {
		if errors.Is(err, ephemeral.ErrAbsent) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	record, err := decodeChallengeRecord(data)
	if err != nil || record.Purpose != purpose {
		return nil, ErrChallengeNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		return nil, ErrChallengeNotFound
	}
	return record, nil
}

// ConsumeExact deletes the record only if it is still byte-for-byte the one
// returned by Peek. Of several concurrent callers holding the same record,
// exactly one succeeds; the rest get ErrChallengeNotFound.
func (s *ChallengeStore) ConsumeExact(ctx context.Context, subject string, record *ChallengeRecord) error {
	if record == nil || len(record.raw) == 0 {
		return ErrChallengeInvalid
	}
	ok, err := s.store.CompareAndDelete(ctx, s.key(record.Purpose, subject), record.raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	if !ok {
		return ErrChallengeNotFound
	}
	return nil
}

// Delete drops any pending challenge for (purpose, subject).
func (s *ChallengeStore) Delete(ctx context.Context, purpose Purpose, subject string) error {
	if err := s.store.Delete(ctx, s.key(purpose, subject)); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
	return nil
}

func firstInt(v []interface{}) (int64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	n, ok := v[0].(int64)
	return n, ok
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("challenge record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	if len(record.Message) > maxMessageLen {
		return nil, errors.New("challenge record message too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Message))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Message)

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &ChallengeRecord{
		Purpose: Purpose(purpose),
		raw:     append([]byte(nil), data...),
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	var msgLen uint16
	if err := binary.Read(reader, binary.BigEndian, &msgLen); err != nil {
		return nil, err
	}
	if int(msgLen) > maxMessageLen {
		return nil, errors.New("challenge record message too long")
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(reader, msg); err != nil {
		return nil, err
	}
	record.Message = string(msg)

	return record, nil
}
