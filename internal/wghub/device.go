// Package wghub maintains a wg-quick interface file as the source of truth
// for the WireGuard dataplane and pushes changes to the kernel with
// strip+syncconf. Peer stanzas are toggled by commenting, so disabled peers
// survive restarts and round-trip through the parser.
package wghub

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrPeerExists is returned when a public key is already present in the
	// interface file.
	ErrPeerExists = errors.New("peer already in config")
	// ErrPeerNotFound is returned when the public key has no stanza.
	ErrPeerNotFound = errors.New("peer not in config")
)

// disabledPrefix comments out one line of a disabled stanza.
const disabledPrefix = "#!"

// Peer is one stanza of the interface file.
type Peer struct {
	Name         string
	PublicKey    string
	PresharedKey string
	SharedIP     string
	Disabled     bool

	// Extra keeps attribute lines this package does not manage, such as a
	// hand-added PersistentKeepalive, so they survive rewrites.
	Extra []string
}

// Device models the interface file: the [Interface] section verbatim plus
// the ordered peer stanzas.
type Device struct {
	Name           string
	InterfaceLines []string
	Peers          []*Peer
}

// InterfaceName derives the device name from the config path the same way
// wg-quick does: basename up to the first dot.
func InterfaceName(path string) string {
	name, _, _ := strings.Cut(filepath.Base(path), ".")
	return name
}

// Parse reads an interface file. A stanza is a `# <name>` header comment
// followed by [Peer] and its attributes; disabled stanzas carry the `#!`
// prefix on every line and stay addressable.
func Parse(name, text string) (*Device, error) {
	d := &Device{Name: name}

	var current *Peer
	pending := ""
	hasPending := false

	flushPending := func() {
		if !hasPending {
			return
		}
		if current == nil {
			d.InterfaceLines = append(d.InterfaceLines, "# "+pending)
		} else {
			current.Extra = append(current.Extra, "# "+pending)
		}
		pending, hasPending = "", false
	}

	for _, raw := range strings.Split(text, "\n") {
		line := raw
		disabled := strings.HasPrefix(line, disabledPrefix)
		if disabled {
			line = strings.TrimPrefix(line, disabledPrefix)
		}
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushPending()
		case trimmed == "[Peer]":
			current = &Peer{Disabled: disabled}
			if hasPending {
				current.Name = pending
				pending, hasPending = "", false
			}
			d.Peers = append(d.Peers, current)
		case trimmed == "[Interface]":
			flushPending()
			current = nil
			d.InterfaceLines = append(d.InterfaceLines, trimmed)
		case strings.HasPrefix(trimmed, "#"):
			flushPending()
			pending = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			hasPending = true
		case current == nil:
			flushPending()
			d.InterfaceLines = append(d.InterfaceLines, line)
		default:
			flushPending()
			key, value, found := strings.Cut(trimmed, "=")
			if !found {
				return nil, fmt.Errorf("device %s: peer stanza line %q has no key", name, raw)
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "PublicKey":
				current.PublicKey = value
			case "PresharedKey":
				current.PresharedKey = value
			case "AllowedIPs":
				ip, _, _ := strings.Cut(value, "/")
				current.SharedIP = ip
			default:
				current.Extra = append(current.Extra, trimmed)
			}
		}
	}
	flushPending()

	for _, p := range d.Peers {
		if p.PublicKey == "" {
			return nil, fmt.Errorf("device %s: peer stanza %q has no PublicKey", name, p.Name)
		}
	}
	return d, nil
}

// Render serializes the device back to wg-quick syntax.
func (d *Device) Render() string {
	var b strings.Builder
	for _, line := range d.InterfaceLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, p := range d.Peers {
		b.WriteByte('\n')
		write := func(s string) {
			if p.Disabled {
				b.WriteString(disabledPrefix)
			}
			b.WriteString(s)
			b.WriteByte('\n')
		}
		if p.Name != "" {
			write("# " + p.Name)
		}
		write("[Peer]")
		write("PublicKey = " + p.PublicKey)
		if p.PresharedKey != "" {
			write("PresharedKey = " + p.PresharedKey)
		}
		write("AllowedIPs = " + p.SharedIP + "/32")
		for _, extra := range p.Extra {
			write(extra)
		}
	}
	return b.String()
}

func (d *Device) find(publicKey string) *Peer {
	for _, p := range d.Peers {
		if p.PublicKey == publicKey {
			return p
		}
	}
	return nil
}

// AddPeer appends a stanza; the public key must be new.
func (d *Device) AddPeer(p Peer) error {
	if d.find(p.PublicKey) != nil {
		return fmt.Errorf("add peer %s: %w", p.Name, ErrPeerExists)
	}
	d.Peers = append(d.Peers, &p)
	return nil
}

// RemovePeer drops the stanza with the given public key.
func (d *Device) RemovePeer(publicKey string) error {
	for i, p := range d.Peers {
		if p.PublicKey == publicKey {
			d.Peers = append(d.Peers[:i], d.Peers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove peer: %w", ErrPeerNotFound)
}

// SetEnabled toggles the stanza's comment prefix.
func (d *Device) SetEnabled(publicKey string, enabled bool) error {
	p := d.find(publicKey)
	if p == nil {
		return fmt.Errorf("toggle peer: %w", ErrPeerNotFound)
	}
	p.Disabled = !enabled
	return nil
}
