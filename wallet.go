package walletauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65

// buildSignMessage renders the text a wallet signs for a challenge. The result
// is persisted with the challenge and never rebuilt at verification time.
func buildSignMessage(cfg WalletConfig, address, nonce string, issuedAt time.Time, purpose string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", cfg.Domain)
	b.WriteString(address)
	b.WriteString("\n\n")
	if cfg.Statement != "" {
		b.WriteString(cfg.Statement)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Purpose: %s\n", purpose)
	fmt.Fprintf(&b, "Nonce: %s\n", nonce)
	fmt.Fprintf(&b, "Issued At: %s", issuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// decodeSignature parses a 65-byte r||s||v personal_sign signature. Both the
// legacy 27/28 and the raw 0/1 recovery ids are accepted.
func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, "0x") && !strings.HasPrefix(signature, "0X") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if len(sig) != signatureLength {
		return nil, ErrInvalidSignature
	}
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return nil, ErrInvalidSignature
	}
	return sig, nil
}

// recoverAddress returns the lowercased address that produced signature over
// message under the EIP-191 personal_sign scheme.
func recoverAddress(message, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", ErrInvalidSignature
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
