package transport

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOpts configures SSH connection behavior for the SFTP transport.
type SSHOpts struct {
	Port     int    // 0 = default (22)
	KeyFile  string // explicit key file; takes priority over auto-discovery
	Password string // used for password and keyboard-interactive auth

	// InsecureSkipHostKeyCheck disables server-key validation (test mode).
	// When true, any host key is trusted.
	InsecureSkipHostKeyCheck bool
}

// DialSSH establishes an SSH connection to host as user, trying auth
// methods in the priority order the spec names for the SFTP transport:
// explicit key file, then auto-discovered keys (modern algorithms first),
// then password, then keyboard-interactive, then agent, then empty
// password.
func DialSSH(host, userName string, opts SSHOpts) (*ssh.Client, error) {
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("transport: determine current user: %w", err)
		}
		userName = u.Username
	}

	port := opts.Port
	if port == 0 {
		port = 22
	}

	authMethods := buildAuthMethods(opts)
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("transport: no SSH auth methods available")
	}

	hostKeyCallback, err := resolveHostKeyCallback(opts)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve host key callback: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            userName,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("transport: ssh dial %s: %w", addr, err)
	}

	return client, nil
}

// buildAuthMethods assembles the auth chain in priority order: explicit
// key file, auto-discovered keys (Ed25519/ECDSA before RSA), password,
// keyboard-interactive, agent, empty password.
func buildAuthMethods(opts SSHOpts) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if opts.KeyFile != "" {
		if m := keyFileAuth(opts.KeyFile); m != nil {
			methods = append(methods, m)
		}
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		home, err := os.UserHomeDir()
		if err != nil {
			continue
		}
		keyPath := filepath.Join(home, ".ssh", name)
		if m := keyFileAuth(keyPath); m != nil {
			methods = append(methods, m)
		}
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
		methods = append(methods, ssh.KeyboardInteractive(passwordKeyboardInteractive(opts.Password)))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	methods = append(methods, ssh.Password(""))

	return methods
}

// passwordKeyboardInteractive answers every keyboard-interactive prompt
// with password, covering servers that require that auth method instead
// of plain password auth.
func passwordKeyboardInteractive(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func keyFileAuth(path string) ssh.AuthMethod {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return ssh.PublicKeys(signer)
}

// resolveHostKeyCallback returns InsecureIgnoreHostKey when the caller
// opted out of validation (test mode), otherwise loads ~/.ssh/known_hosts.
func resolveHostKeyCallback(opts SSHOpts) (ssh.HostKeyCallback, error) {
	if opts.InsecureSkipHostKeyCheck {
		//nolint:gosec // explicit opt-out, documented as test mode
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	return knownhosts.New(knownHostsPath)
}
