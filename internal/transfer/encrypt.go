package transfer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"golang.org/x/term"

	"github.com/tis24dev/pgsave/internal/config"
)

// Encryptor holds the age material of one stanza. A nil-material encryptor
// is valid and reports Enabled() == false; Wrap/Unwrap then fail loudly if
// reached, so misconfiguration cannot silently produce plaintext where
// ciphertext was expected (or vice versa).
type Encryptor struct {
	recipients []age.Recipient
	identities []age.Identity
}

// NewEncryptor resolves the configured recipients/identities. With
// passphrase-prompt enabled and no recipients configured, the passphrase is
// requested interactively (scrypt recipient); that requires a terminal.
func NewEncryptor(cfg config.EncryptionConfig) (*Encryptor, error) {
	e := &Encryptor{}

	for _, r := range cfg.AgeRecipients {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(r))
		if err != nil {
			return nil, fmt.Errorf("parse age recipient %q: %w", r, err)
		}
		e.recipients = append(e.recipients, recipient)
	}

	if cfg.AgeIdentity != "" {
		f, err := os.Open(cfg.AgeIdentity)
		if err != nil {
			return nil, fmt.Errorf("open age identity %s: %w", cfg.AgeIdentity, err)
		}
		defer f.Close()
		ids, err := age.ParseIdentities(f)
		if err != nil {
			return nil, fmt.Errorf("parse age identity %s: %w", cfg.AgeIdentity, err)
		}
		e.identities = append(e.identities, ids...)
		// An X25519 identity can encrypt to itself; use it as a recipient
		// too, so a single identity file serves both directions.
		if len(e.recipients) == 0 {
			for _, id := range ids {
				if x, ok := id.(*age.X25519Identity); ok {
					e.recipients = append(e.recipients, x.Recipient())
				}
			}
		}
	}

	if cfg.PassphrasePrompt && len(e.recipients) == 0 {
		passphrase, err := promptPassphrase()
		if err != nil {
			return nil, err
		}
		recipient, err := age.NewScryptRecipient(passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt recipient: %w", err)
		}
		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt identity: %w", err)
		}
		e.recipients = append(e.recipients, recipient)
		e.identities = append(e.identities, identity)
	}

	return e, nil
}

// Enabled reports whether encryption material is available.
func (e *Encryptor) Enabled() bool {
	return e != nil && len(e.recipients) > 0
}

// Wrap returns a writer encrypting to the configured recipients. The
// returned WriteCloser must be closed to finalize the age stream.
func (e *Encryptor) Wrap(w io.Writer) (io.WriteCloser, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("encryption requested but no age recipients configured")
	}
	return age.Encrypt(w, e.recipients...)
}

// Unwrap returns a reader decrypting with the configured identities.
func (e *Encryptor) Unwrap(r io.Reader) (io.Reader, error) {
	if e == nil || len(e.identities) == 0 {
		return nil, fmt.Errorf("encrypted file found but no age identity configured")
	}
	return age.Decrypt(r, e.identities...)
}

func promptPassphrase() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase-prompt requires a terminal; configure age-recipients for unattended runs")
	}
	fmt.Fprint(os.Stderr, "Enter archive passphrase: ")
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(passphrase), nil
}
