package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/fastcopy/fastcopy/internal/ustar"
)

// PodTransport lands a stream inside a pod by wrapping it with the USTAR
// framer and piping the archive into a pod exec of "tar -xf -".
type PodTransport struct {
	restConfig *rest.Config
	clientset  *kubernetes.Clientset
}

// NewPodTransport builds a PodTransport from the default kubeconfig
// resolution chain (in-cluster config first, then KUBECONFIG / ~/.kube).
func NewPodTransport() (*PodTransport, error) {
	cfg, err := resolveKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("transport(pod): resolve kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport(pod): new clientset: %w", err)
	}
	return &PodTransport{restConfig: cfg, clientset: cs}, nil
}

func resolveKubeConfig() (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

// CopyStreamTo implements Transport for k8s:// URIs.
func (t *PodTransport) CopyStreamTo(ctx context.Context, source io.Reader, destinationURI string, opts CopyOptions) error {
	loc, err := ParseLocation(destinationURI)
	if err != nil {
		return err
	}
	if loc.Scheme != SchemePod {
		return fmt.Errorf("%w: pod transport given non-k8s uri %q", ErrBadURI, destinationURI)
	}

	size := opts.KnownSize
	if size < 0 {
		return fmt.Errorf("%w: pod transport requires a known size to frame a ustar entry", ErrBadURI)
	}

	name := path.Base(loc.Path)
	parent := path.Dir(loc.Path)
	framer := ustar.New(source, name, size, ustar.WithRateLimit(ctx, opts.RateLimiter))

	req := t.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(loc.PodName).
		Namespace(loc.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"tar", "-xf", "-", "-C", parent},
			Stdin:   true,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(t.restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("transport(pod): build executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  framer,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return fmt.Errorf("transport(pod): exec tar -xf -: %w", err)
	}
	if stderr.Len() > 0 {
		return fmt.Errorf("transport(pod): tar reported errors: %s", stderr.String())
	}

	if opts.OnProgress != nil {
		opts.OnProgress(size, size, 0)
	}
	return nil
}
