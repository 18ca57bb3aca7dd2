package executor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChannelMode selects how credentials reach a check script.
type ChannelMode string

const (
	// ChannelFile writes the payload to a private temporary file whose path
	// is passed in POSTURE_CREDENTIALS_FILE.
	ChannelFile ChannelMode = "file"
	// ChannelStdin streams the payload on the script standard input.
	ChannelStdin ChannelMode = "stdin"
)

// Environment variables set for every check script.
const (
	EnvCredentialsFile    = "POSTURE_CREDENTIALS_FILE"
	EnvCredentialsChannel = "POSTURE_CREDENTIALS_CHANNEL"
	EnvCheckID            = "POSTURE_CHECK_ID"
	EnvBenchmarkID        = "POSTURE_BENCHMARK_ID"
	EnvBenchmarkVersion   = "POSTURE_BENCHMARK_VERSION"
	EnvTenantID           = "POSTURE_TENANT_ID"
	EnvTenantDomain       = "POSTURE_TENANT_DOMAIN"
)

const credentialsFileName = "credentials.json"

// ParseChannelMode validates a channel mode flag value.
func ParseChannelMode(s string) (ChannelMode, error) {
	switch ChannelMode(s) {
	case ChannelFile, ChannelStdin:
		return ChannelMode(s), nil
	default:
		return "", fmt.Errorf("unknown credentials channel %q, expected %q or %q", s, ChannelFile, ChannelStdin)
	}
}

// credentialChannel holds the credential payload of one execution. release
// must be called on every exit path; it is idempotent.
type credentialChannel struct {
	env     []string
	stdin   io.Reader
	dir     string
	payload []byte
}

func openChannel(mode ChannelMode, tempDir string, payload []byte) (*credentialChannel, error) {
	ch := &credentialChannel{payload: payload}

	switch mode {
	case ChannelStdin:
		ch.stdin = bytes.NewReader(payload)
		ch.env = []string{EnvCredentialsChannel + "=" + string(ChannelStdin)}
		return ch, nil
	case ChannelFile, "":
	default:
		ch.release()
		return nil, fmt.Errorf("unknown credentials channel %q", mode)
	}

	// MkdirTemp creates the directory with mode 0700
	dir, err := os.MkdirTemp(tempDir, "posture-credentials-")
	if err != nil {
		ch.release()
		return nil, fmt.Errorf("cannot create credentials directory: %w", err)
	}
	ch.dir = dir

	path := filepath.Join(dir, credentialsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		ch.release()
		return nil, fmt.Errorf("cannot create credentials file: %w", err)
	}
	_, writeErr := f.Write(payload)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		ch.release()
		return nil, fmt.Errorf("cannot write credentials file: %w", firstError(writeErr, closeErr))
	}

	ch.env = []string{
		EnvCredentialsChannel + "=" + string(ChannelFile),
		EnvCredentialsFile + "=" + path,
	}
	return ch, nil
}

func (c *credentialChannel) release() error {
	clear(c.payload)
	if c.dir == "" {
		return nil
	}
	dir := c.dir
	c.dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cannot remove credentials directory %s: %w", dir, err)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
