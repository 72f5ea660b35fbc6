package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/internal/ipalloc"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/jackc/pgx/v5"
)

const peerSelect = `SELECT p.id, p.user_id, p.name, p.kind, p.status, p.active_until,
	w.private_key, w.public_key, w.preshared_key, w.shared_ip, w.is_amnezia, w.jc, w.jmin, w.jmax,
	x.inbound_id, x.flow
 FROM peers p
 LEFT JOIN wireguard_peers w ON w.peer_id = p.id
 LEFT JOIN xray_peers x ON x.peer_id = p.id`

// scanPeer reads one joined peer row and attaches whichever extension is
// present.
func scanPeer(row pgx.Row) (*model.Peer, error) {
	var (
		p                        model.Peer
		priv, pub, psk, sharedIP *string
		isAmnezia                *bool
		jc, jmin, jmax           *int
		inboundID                *int64
		flow                     *string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Kind, &p.Status, &p.ActiveUntil,
		&priv, &pub, &psk, &sharedIP, &isAmnezia, &jc, &jmin, &jmax,
		&inboundID, &flow)
	if err != nil {
		return nil, err
	}
	if sharedIP != nil {
		p.Wireguard = &model.WireguardPeer{
			PeerID:       p.ID,
			PrivateKey:   *priv,
			PublicKey:    *pub,
			PresharedKey: *psk,
			SharedIP:     *sharedIP,
			IsAmnezia:    *isAmnezia,
			Jc:           *jc,
			Jmin:         *jmin,
			Jmax:         *jmax,
		}
	}
	if inboundID != nil {
		p.Xray = &model.XrayPeer{PeerID: p.ID, InboundID: *inboundID, Flow: *flow}
	}
	return &p, nil
}

// WireguardPeerParams carries the caller-chosen parts of a new WireGuard
// peer. Key fields left empty are generated with the KeyTool; an empty
// Name defaults to <username>_<peer id>.
type WireguardPeerParams struct {
	SharedIP     string
	Name         string
	PrivateKey   string
	PublicKey    string
	PresharedKey string
	IsAmnezia    bool
}

// AddWireguardPeer inserts the base row and the WireGuard extension in one
// transaction. Amnezia peers get junk-packet parameters drawn uniformly
// within their allowed ranges.
func (s *Service) AddWireguardPeer(ctx context.Context, user *model.User, params WireguardPeerParams) (*model.Peer, error) {
	if !ipalloc.ValidIP(params.SharedIP) {
		return nil, fmt.Errorf("shared ip %q: %w", params.SharedIP, model.ErrValidation)
	}
	if params.Name != "" {
		if err := model.ValidatePeerName(params.Name); err != nil {
			return nil, err
		}
	}

	var err error
	privateKey := params.PrivateKey
	if privateKey == "" {
		if privateKey, err = s.keys.GeneratePrivateKey(ctx); err != nil {
			return nil, fmt.Errorf("generate private key: %w", err)
		}
	}
	publicKey := params.PublicKey
	if publicKey == "" {
		if publicKey, err = s.keys.PublicKey(ctx, privateKey); err != nil {
			return nil, fmt.Errorf("derive public key: %w", err)
		}
	}
	presharedKey := params.PresharedKey
	if presharedKey == "" {
		if presharedKey, err = s.keys.GeneratePresharedKey(ctx); err != nil {
			return nil, fmt.Errorf("generate preshared key: %w", err)
		}
	}

	kind := model.KindWireguard
	var jc, jmin, jmax int
	if params.IsAmnezia {
		kind = model.KindAmneziaWireguard
		jc, jmin, jmax = drawJitter()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	peer, err := insertPeerBase(ctx, tx, user, params.Name, kind)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wireguard_peers (peer_id, private_key, public_key, preshared_key, shared_ip, is_amnezia, jc, jmin, jmax)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		peer.ID, privateKey, publicKey, presharedKey, params.SharedIP, params.IsAmnezia, jc, jmin, jmax,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wireguard peer: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	peer.Wireguard = &model.WireguardPeer{
		PeerID:       peer.ID,
		PrivateKey:   privateKey,
		PublicKey:    publicKey,
		PresharedKey: presharedKey,
		SharedIP:     params.SharedIP,
		IsAmnezia:    params.IsAmnezia,
		Jc:           jc,
		Jmin:         jmin,
		Jmax:         jmax,
	}
	return peer, nil
}

// AddXrayPeer inserts the base row and the XRay extension in one
// transaction. An empty name defaults to <username>_<peer id>.
func (s *Service) AddXrayPeer(ctx context.Context, user *model.User, inboundID int64, flow, name string) (*model.Peer, error) {
	if name != "" {
		if err := model.ValidatePeerName(name); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	peer, err := insertPeerBase(ctx, tx, user, name, model.KindXray)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO xray_peers (peer_id, inbound_id, flow) VALUES ($1, $2, $3)`,
		peer.ID, inboundID, flow,
	)
	if err != nil {
		return nil, fmt.Errorf("insert xray peer: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	peer.Xray = &model.XrayPeer{PeerID: peer.ID, InboundID: inboundID, Flow: flow}
	return peer, nil
}

// insertPeerBase allocates the peer id up front so a defaulted name can
// embed it, then inserts the base row. Defaulted names skip the length
// check so a long username cannot make peer creation fail.
func insertPeerBase(ctx context.Context, tx pgx.Tx, user *model.User, name, kind string) (*model.Peer, error) {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('peers', 'id'))`).Scan(&id); err != nil {
		return nil, fmt.Errorf("allocate peer id: %w", err)
	}
	if name == "" {
		name = fmt.Sprintf("%s_%d", user.Username, id)
	}

	p := &model.Peer{
		ID:     id,
		UserID: user.ID,
		Name:   name,
		Kind:   kind,
		Status: model.PeerDisconnected,
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO peers (id, user_id, name, kind, status) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.UserID, p.Name, p.Kind, p.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert peer: %w", mapError(err))
	}
	return p, nil
}

// drawJitter picks Amnezia junk-packet parameters, keeping Jmax strictly
// above Jmin.
func drawJitter() (jc, jmin, jmax int) {
	jc = model.JcMin + rand.IntN(model.JcMax-model.JcMin+1)
	jmin = model.JminMin + rand.IntN(model.JminMax-model.JminMin+1)
	jmax = jmin + 1 + rand.IntN(model.JmaxCap-jmin)
	return jc, jmin, jmax
}

// GetPeers lists a user's peers, optionally narrowed to the given kinds.
func (s *Service) GetPeers(ctx context.Context, userID string, kinds ...string) ([]model.Peer, error) {
	query := peerSelect + ` WHERE p.user_id = $1`
	args := []any{userID}
	if len(kinds) > 0 {
		query += ` AND p.kind = ANY($2)`
		args = append(args, kinds)
	}
	query += ` ORDER BY p.id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list peers for user %s: %w", userID, err)
	}
	defer rows.Close()

	var peers []model.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return peers, nil
}

// ListPeers returns every peer across all users. The connection observer
// loads its roster with it.
func (s *Service) ListPeers(ctx context.Context) ([]model.Peer, error) {
	rows, err := s.db.Query(ctx, peerSelect+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var peers []model.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return peers, nil
}

func (s *Service) GetPeerByID(ctx context.Context, id int64) (*model.Peer, error) {
	p, err := scanPeer(s.db.QueryRow(ctx, peerSelect+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get peer %d: %w", id, mapError(err))
	}
	return p, nil
}

// GetPeerByIP finds the WireGuard peer holding the given tunnel address.
func (s *Service) GetPeerByIP(ctx context.Context, ip string) (*model.Peer, error) {
	p, err := scanPeer(s.db.QueryRow(ctx, peerSelect+` WHERE w.shared_ip = $1`, ip))
	if err != nil {
		return nil, fmt.Errorf("get peer by ip %s: %w", ip, mapError(err))
	}
	return p, nil
}

// DeletePeer removes the base row; the extension row goes with it via the
// FK cascade.
func (s *Service) DeletePeer(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM peers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete peer %d: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete peer %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListUsedIPs returns every tunnel address currently held by a WireGuard
// peer. Boot subtracts them from the subnet before seeding the IP queue.
func (s *Service) ListUsedIPs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT shared_ip FROM wireguard_peers ORDER BY shared_ip")
	if err != nil {
		return nil, fmt.Errorf("list used ips: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("scan ip: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ips: %w", err)
	}
	return ips, nil
}

// PeerUpdate names the fields UpdatePeer may change. Nil fields stay
// untouched; clearing active_until goes through SetPeerActiveUntil.
type PeerUpdate struct {
	Name        *string
	Kind        *string
	Status      *string
	ActiveUntil *time.Time

	PrivateKey   *string
	PublicKey    *string
	PresharedKey *string
	SharedIP     *string
	IsAmnezia    *bool
	Jc           *int
	Jmin         *int
	Jmax         *int

	InboundID *int64
	Flow      *string
}

func (u PeerUpdate) validate() error {
	if u.Name != nil {
		if err := model.ValidatePeerName(*u.Name); err != nil {
			return err
		}
	}
	if u.Kind != nil && !model.ValidKind(*u.Kind) {
		return fmt.Errorf("peer kind %q: %w", *u.Kind, model.ErrValidation)
	}
	if u.Status != nil && !model.ValidPeerStatus(*u.Status) {
		return fmt.Errorf("peer status %q: %w", *u.Status, model.ErrValidation)
	}
	if u.SharedIP != nil && !ipalloc.ValidIP(*u.SharedIP) {
		return fmt.Errorf("shared ip %q: %w", *u.SharedIP, model.ErrValidation)
	}
	if u.Jc != nil && (*u.Jc < model.JcMin || *u.Jc > model.JcMax) {
		return fmt.Errorf("jc %d outside [%d,%d]: %w", *u.Jc, model.JcMin, model.JcMax, model.ErrValidation)
	}
	if u.Jmin != nil && (*u.Jmin < model.JminMin || *u.Jmin > model.JminMax) {
		return fmt.Errorf("jmin %d outside [%d,%d]: %w", *u.Jmin, model.JminMin, model.JminMax, model.ErrValidation)
	}
	if u.Jmax != nil && *u.Jmax > model.JmaxCap {
		return fmt.Errorf("jmax %d above %d: %w", *u.Jmax, model.JmaxCap, model.ErrValidation)
	}
	return nil
}

func (u PeerUpdate) wantsBase() bool {
	return u.Name != nil || u.Kind != nil || u.Status != nil || u.ActiveUntil != nil
}

func (u PeerUpdate) wantsWireguard() bool {
	return u.PrivateKey != nil || u.PublicKey != nil || u.PresharedKey != nil ||
		u.SharedIP != nil || u.IsAmnezia != nil || u.Jc != nil || u.Jmin != nil || u.Jmax != nil
}

func (u PeerUpdate) wantsXray() bool {
	return u.InboundID != nil || u.Flow != nil
}

// UpdatePeer applies the non-nil fields of upd in one transaction. Base
// fields go to peers, extension fields to the table matching the peer's
// kind; extension fields for the other dataplane are rejected, as is a
// kind change that would move the peer across dataplanes.
func (s *Service) UpdatePeer(ctx context.Context, id int64, upd PeerUpdate) error {
	if err := upd.validate(); err != nil {
		return err
	}
	if !upd.wantsBase() && !upd.wantsWireguard() && !upd.wantsXray() {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var kind string
	if err := tx.QueryRow(ctx, "SELECT kind FROM peers WHERE id = $1", id).Scan(&kind); err != nil {
		return fmt.Errorf("get peer %d: %w", id, mapError(err))
	}
	if upd.Kind != nil && model.IsWireguardKind(*upd.Kind) != model.IsWireguardKind(kind) {
		return fmt.Errorf("peer %d cannot change kind %s to %s: %w", id, kind, *upd.Kind, model.ErrValidation)
	}
	if upd.wantsWireguard() && !model.IsWireguardKind(kind) {
		return fmt.Errorf("peer %d is %s, wireguard fields not applicable: %w", id, kind, model.ErrValidation)
	}
	if upd.wantsXray() && kind != model.KindXray {
		return fmt.Errorf("peer %d is %s, xray fields not applicable: %w", id, kind, model.ErrValidation)
	}

	var set []string
	var args []any
	add := func(col string, val any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)+1))
		args = append(args, val)
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Kind != nil {
		add("kind", *upd.Kind)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.ActiveUntil != nil {
		add("active_until", *upd.ActiveUntil)
	}
	if len(set) > 0 {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE peers SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("update peer %d: %w", id, mapError(err))
		}
	}

	set, args = nil, nil
	table := "wireguard_peers"
	if kind == model.KindXray {
		table = "xray_peers"
	}
	if upd.PrivateKey != nil {
		add("private_key", *upd.PrivateKey)
	}
	if upd.PublicKey != nil {
		add("public_key", *upd.PublicKey)
	}
	if upd.PresharedKey != nil {
		add("preshared_key", *upd.PresharedKey)
	}
	if upd.SharedIP != nil {
		add("shared_ip", *upd.SharedIP)
	}
	if upd.IsAmnezia != nil {
		add("is_amnezia", *upd.IsAmnezia)
	}
	if upd.Jc != nil {
		add("jc", *upd.Jc)
	}
	if upd.Jmin != nil {
		add("jmin", *upd.Jmin)
	}
	if upd.Jmax != nil {
		add("jmax", *upd.Jmax)
	}
	if upd.InboundID != nil {
		add("inbound_id", *upd.InboundID)
	}
	if upd.Flow != nil {
		add("flow", *upd.Flow)
	}
	if len(set) > 0 {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE peer_id = $%d", table, strings.Join(set, ", "), len(args))
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("update %s for peer %d: %w", table, id, mapError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) SetPeerStatus(ctx context.Context, id int64, status string) error {
	if !model.ValidPeerStatus(status) {
		return fmt.Errorf("peer status %q: %w", status, model.ErrValidation)
	}
	tag, err := s.db.Exec(ctx, "UPDATE peers SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("set peer %d status: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set peer %d status: %w", id, ErrNotFound)
	}
	return nil
}

// SetPeerActiveUntil sets or clears the peer's activity deadline. A nil
// until clears it.
func (s *Service) SetPeerActiveUntil(ctx context.Context, id int64, until *time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE peers SET active_until = $1 WHERE id = $2", until, id)
	if err != nil {
		return fmt.Errorf("set peer %d active_until: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set peer %d active_until: %w", id, ErrNotFound)
	}
	return nil
}

// RenamePeer changes the display name; a duplicate within the same user
// surfaces as ErrConflict.
func (s *Service) RenamePeer(ctx context.Context, id int64, name string) error {
	if err := model.ValidatePeerName(name); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, "UPDATE peers SET name = $1 WHERE id = $2", name, id)
	if err != nil {
		return fmt.Errorf("rename peer %d: %w", id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rename peer %d: %w", id, ErrNotFound)
	}
	return nil
}
