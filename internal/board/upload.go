package board

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// SSHConfig describes the board's SSH account used to copy bitstreams.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
	Dir      string // remote boffile directory
	Timeout  time.Duration
}

// Uploader copies .bof files onto a ROACH2 so that ?progdev can find them.
type Uploader struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
	logger logging.Logger
}

// NewUploader validates cfg and fills defaults.
func NewUploader(cfg SSHConfig, logger logging.Logger) (*Uploader, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for boffile upload")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Dir == "" {
		cfg.Dir = "/boffiles"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Uploader{cfg: cfg, logger: logger.With(logging.F("subsystem", "upload"))}, nil
}

// RemotePath returns where a local boffile ends up on the board.
func (u *Uploader) RemotePath(local string) string {
	return path.Join(u.cfg.Dir, filepath.Base(local))
}

// Upload copies the local file and marks it executable. It returns the
// name to pass to Program.
func (u *Uploader) Upload(ctx context.Context, local string) (string, error) {
	data, err := os.ReadFile(local)
	if err != nil {
		return "", fmt.Errorf("read boffile: %w", err)
	}
	client, err := u.dial(ctx)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	remote := u.RemotePath(local)
	session.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	session.Stderr = &stderr
	cmd := fmt.Sprintf("cat > %s && chmod a+x %s", shellQuote(remote), shellQuote(remote))
	if err := session.Run(cmd); err != nil {
		return "", fmt.Errorf("upload %s: %w: %s", remote, err, strings.TrimSpace(stderr.String()))
	}
	u.logger.Info("boffile uploaded", logging.F("remote", remote), logging.F("bytes", len(data)))
	return filepath.Base(local), nil
}

// Close closes the SSH connection if one was opened.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.client == nil {
		return nil
	}
	err := u.client.Close()
	u.client = nil
	return err
}

func (u *Uploader) dial(ctx context.Context) (*ssh.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client != nil {
		return u.client, nil
	}

	auth := []ssh.AuthMethod{}
	if u.cfg.Password != "" {
		auth = append(auth, ssh.Password(u.cfg.Password))
	}
	if u.cfg.KeyPath != "" {
		key, err := os.ReadFile(u.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            u.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         u.cfg.Timeout,
	}

	addr := net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.Port))
	dialer := net.Dialer{Timeout: u.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	u.client = ssh.NewClient(clientConn, chans, reqs)
	return u.client, nil
}

// shellQuote wraps a value in single quotes for the remote shell.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
