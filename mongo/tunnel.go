package mongo

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cryogenian/quasar-mongo/config"
)

const tunnelDialTimeout = 10 * time.Second

// tunnelDialer routes the driver's connections through an SSH hop. It
// satisfies the driver's ContextDialer contract.
type tunnelDialer struct {
	client *ssh.Client
}

func dialTunnel(cfg *config.Tunnel) (*tunnelDialer, error) {
	auth, err := tunnelAuth(cfg)
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Host key material is not part of the tunnel descriptor; the hop
		// is trusted by configuration.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         tunnelDialTimeout,
	}
	client, err := ssh.Dial("tcp", cfg.Addr, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Addr, err)
	}
	return &tunnelDialer{client: client}, nil
}

func tunnelAuth(cfg *config.Tunnel) ([]ssh.AuthMethod, error) {
	if cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cfg.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	}
	return nil, fmt.Errorf("tunnel needs a password or a private key")
}

// DialContext dials the target address through the established SSH client.
// ssh.Client.Dial is not context-aware, so the dial runs in a goroutine and
// the caller's deadline is honored by abandoning it.
func (t *tunnelDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := t.client.Dial(network, address)
		if err == nil {
			select {
			case ch <- dialResult{conn: conn}:
			case <-ctx.Done():
				conn.Close()
			}
			return
		}
		ch <- dialResult{err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// Close tears the SSH connection down.
func (t *tunnelDialer) Close() error {
	return t.client.Close()
}
