package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme identifies which transport a Location resolves to.
type Scheme string

const (
	SchemeLocal     Scheme = "local"
	SchemeSFTP      Scheme = "sftp"
	SchemeContainer Scheme = "container"
	SchemePod       Scheme = "pod"
)

// Location is a parsed destination (or source) URI per the grammar in
// the external interfaces section:
//
//	file:///absolute/path                          -> Local
//	/absolute/or/relative/path (no scheme)          -> Local
//	ssh://[user[:pass]@]host[:port]/remote/path     -> SFTP
//	sftp://…                                        -> SFTP (alias)
//	docker://<container_id>/remote/path             -> Container
//	k8s://<namespace>/<pod_name>/remote/path        -> Pod
type Location struct {
	Scheme Scheme
	Path   string

	// SFTP fields.
	Host string
	Port int
	User string
	Pass string

	// Container field.
	ContainerID string

	// Pod fields.
	Namespace string
	PodName   string
}

// String renders the Location back into its canonical URI form.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeSFTP:
		userinfo := ""
		if l.User != "" {
			userinfo = l.User + "@"
		}
		port := ""
		if l.Port != 0 {
			port = fmt.Sprintf(":%d", l.Port)
		}
		return fmt.Sprintf("sftp://%s%s%s%s", userinfo, l.Host, port, l.Path)
	case SchemeContainer:
		return fmt.Sprintf("docker://%s%s", l.ContainerID, l.Path)
	case SchemePod:
		return fmt.Sprintf("k8s://%s/%s%s", l.Namespace, l.PodName, l.Path)
	default:
		return l.Path
	}
}

// ErrBadURI is returned for malformed or unrecognized destination URIs.
var ErrBadURI = fmt.Errorf("transport: bad uri")

// ParseLocation parses a destination/source argument into a Location.
// Unknown schemes are rejected at this boundary, per the Transport
// factory contract.
func ParseLocation(arg string) (Location, error) {
	switch {
	case strings.HasPrefix(arg, "file://"):
		return Location{Scheme: SchemeLocal, Path: strings.TrimPrefix(arg, "file://")}, nil
	case strings.HasPrefix(arg, "ssh://"), strings.HasPrefix(arg, "sftp://"):
		return parseSFTPURL(arg)
	case strings.HasPrefix(arg, "docker://"):
		return parseDockerURL(arg)
	case strings.HasPrefix(arg, "k8s://"):
		return parsePodURL(arg)
	case strings.Contains(arg, "://"):
		return Location{}, fmt.Errorf("%w: unrecognized scheme in %q", ErrBadURI, arg)
	default:
		return Location{Scheme: SchemeLocal, Path: arg}, nil
	}
}

func parseSFTPURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %s: %v", ErrBadURI, raw, err)
	}
	if u.Hostname() == "" {
		return Location{}, fmt.Errorf("%w: missing host in %q", ErrBadURI, raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Location{}, fmt.Errorf("%w: bad port in %q: %v", ErrBadURI, raw, err)
		}
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	return Location{
		Scheme: SchemeSFTP,
		Host:   u.Hostname(),
		Port:   port,
		User:   user,
		Pass:   pass,
		Path:   u.Path,
	}, nil
}

func parseDockerURL(raw string) (Location, error) {
	rest := strings.TrimPrefix(raw, "docker://")
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 {
		return Location{}, fmt.Errorf("%w: docker uri missing path: %q", ErrBadURI, raw)
	}
	containerID := rest[:idx]
	path := rest[idx:]
	if containerID == "" {
		return Location{}, fmt.Errorf("%w: docker uri missing container id: %q", ErrBadURI, raw)
	}
	return Location{Scheme: SchemeContainer, ContainerID: containerID, Path: path}, nil
}

func parsePodURL(raw string) (Location, error) {
	rest := strings.TrimPrefix(raw, "k8s://")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return Location{}, fmt.Errorf("%w: k8s uri must be k8s://namespace/pod/path: %q", ErrBadURI, raw)
	}
	return Location{
		Scheme:    SchemePod,
		Namespace: parts[0],
		PodName:   parts[1],
		Path:      "/" + parts[2],
	}, nil
}
