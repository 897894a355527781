package vfsattr

// Credential is the Unix triple every protocol layer's auth resolves to
// before entering the core (spec.md §3): SigV4, Kerberos, and NTLM
// verification happen upstream of the VFS — only the resulting shape
// matters here.
type Credential struct {
	UID         uint32
	GID         uint32
	Groups      []uint32
	MachineName string
}

// HasGroup reports whether gid appears in the credential's primary GID or
// supplementary group list.
func (c Credential) HasGroup(gid uint32) bool {
	if c.GID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// Root is the credential used internally by components that must act as
// the filesystem owner (e.g. reaper-driven backend closes).
var Root = Credential{UID: 0, GID: 0}
