// internal/remote/credentials.go
package remote

// CredentialSource resolves a sensor's credential reference to a secret.
// An empty ref selects the source's default.
type CredentialSource interface {
	Secret(ref string) (string, bool)
}

// StaticCredentials is a read-only ref -> secret table built once at startup.
type StaticCredentials struct {
	secrets    map[string]string
	defaultRef string
}

func NewStaticCredentials(secrets map[string]string, defaultRef string) *StaticCredentials {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &StaticCredentials{secrets: copied, defaultRef: defaultRef}
}

func (c *StaticCredentials) Secret(ref string) (string, bool) {
	if ref == "" {
		ref = c.defaultRef
	}
	secret, ok := c.secrets[ref]
	return secret, ok
}
