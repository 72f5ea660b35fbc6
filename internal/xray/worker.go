package xray

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAuthExpired marks a panel response that was not the JSON envelope,
// which is what the panel serves once the session cookie has lapsed.
var ErrAuthExpired = errors.New("panel session expired")

// Options locates and authenticates against the panel. Host may carry a
// scheme; without one it defaults to https, or http when TLS is false.
// TLS=false also skips certificate verification, since self-hosted panels
// are commonly self-signed.
type Options struct {
	Host     string
	Port     int
	WebPath  string
	Username string
	Password string
	Token    string
	TLS      bool
}

func (o Options) baseURL() string {
	host := o.Host
	if !strings.Contains(host, "://") {
		scheme := "http"
		if o.TLS {
			scheme = "https"
		}
		host = scheme + "://" + host
	}
	if o.Port > 0 {
		host += ":" + strconv.Itoa(o.Port)
	}
	if p := strings.Trim(o.WebPath, "/"); p != "" {
		host += "/" + p
	}
	return host
}

// publicHost is the bare hostname clients connect to, for building
// connection strings.
func (o Options) publicHost() string {
	host := o.Host
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host, _, _ = strings.Cut(host, "/")
	host, _, _ = strings.Cut(host, ":")
	return host
}

// Worker is a logged-in panel client. The mutex serializes requests with
// the one transparent re-login performed when the session lapses.
type Worker struct {
	baseURL string
	host    string
	opts    Options

	mu   sync.Mutex
	http *http.Client
	log  zerolog.Logger
}

// NewWorker builds the client and logs in immediately; a panel that cannot
// be authenticated against is a boot failure.
func NewWorker(ctx context.Context, opts Options, logger zerolog.Logger) (*Worker, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: 30 * time.Second}
	if !opts.TLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	w := &Worker{
		baseURL: opts.baseURL(),
		host:    opts.publicHost(),
		opts:    opts,
		http:    client,
		log:     logger.With().Str("component", "xray").Logger(),
	}
	if err := w.Login(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Login opens a panel session; the cookie lands in the jar.
func (w *Worker) Login(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loginLocked(ctx)
}

func (w *Worker) loginLocked(ctx context.Context) error {
	payload := map[string]string{
		"username": w.opts.Username,
		"password": w.opts.Password,
	}
	if w.opts.Token != "" {
		payload["loginSecret"] = w.opts.Token
	}
	if err := w.doLocked(ctx, http.MethodPost, "login", payload, nil); err != nil {
		return fmt.Errorf("panel login: %w", err)
	}
	w.log.Debug().Str("panel", w.baseURL).Msg("panel session opened")
	return nil
}

// request runs one panel call, renewing the session once when the panel
// answers with something other than its envelope.
func (w *Worker) request(ctx context.Context, method, path string, payload, out any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.doLocked(ctx, method, path, payload, out)
	if !errors.Is(err, ErrAuthExpired) {
		return err
	}

	w.log.Warn().Str("path", path).Msg("panel session expired, logging in again")
	if err := w.loginLocked(ctx); err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	return w.doLocked(ctx, method, path, payload, out)
}

func (w *Worker) doLocked(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+"/"+path, body)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: %w", path, ErrAuthExpired)
	}
	if !envelope.Success {
		return fmt.Errorf("%s: panel refused: %s", path, envelope.Msg)
	}
	if out != nil && len(envelope.Obj) > 0 {
		if err := json.Unmarshal(envelope.Obj, out); err != nil {
			return fmt.Errorf("decode %s obj: %w", path, err)
		}
	}
	return nil
}

// clientFor converts a peer row into the panel's client record. The panel
// id is the stringified peer id, so panel state always maps back to a row.
func clientFor(peer *model.Peer, expiresAt *time.Time) Client {
	var expiryMS int64
	if expiresAt != nil {
		expiryMS = expiresAt.UnixMilli()
	}
	return Client{
		ID:         strconv.FormatInt(peer.ID, 10),
		Email:      peer.Name,
		Enable:     peer.Status == model.PeerConnected || peer.Status == model.PeerDisconnected,
		Flow:       peer.Xray.Flow,
		InboundID:  peer.Xray.InboundID,
		ExpiryTime: expiryMS,
		SubID:      uuid.NewString(),
	}
}

// settingsPayload wraps clients the way the panel expects: JSON-encoded
// into a string under "settings".
func settingsPayload(inboundID int64, clients []Client) (map[string]any, error) {
	settings, err := json.Marshal(map[string]any{"clients": clients})
	if err != nil {
		return nil, fmt.Errorf("marshal clients: %w", err)
	}
	return map[string]any{"id": inboundID, "settings": string(settings)}, nil
}

// AddPeers registers the peers as clients on the inbound. A peer bound to
// a different inbound is still added but logged, since the panel will file
// it under the inbound given here.
func (w *Worker) AddPeers(ctx context.Context, inboundID int64, peers []*model.Peer, expiresAt *time.Time) error {
	clients := make([]Client, 0, len(peers))
	for _, p := range peers {
		if p.Xray == nil {
			return fmt.Errorf("peer %d has no xray attachment: %w", p.ID, model.ErrValidation)
		}
		if p.Xray.InboundID != inboundID {
			w.log.Warn().
				Int64("peer_id", p.ID).
				Int64("peer_inbound", p.Xray.InboundID).
				Int64("inbound", inboundID).
				Msg("peer bound to a different inbound")
		}
		clients = append(clients, clientFor(p, expiresAt))
	}

	payload, err := settingsPayload(inboundID, clients)
	if err != nil {
		return err
	}
	if err := w.request(ctx, http.MethodPost, "panel/api/inbounds/addClient", payload, nil); err != nil {
		return fmt.Errorf("add clients: %w", err)
	}
	w.log.Info().Int("clients", len(clients)).Int64("inbound", inboundID).Msg("clients added")
	return nil
}

// UpdatePeer pushes the peer's current row state over its panel client.
func (w *Worker) UpdatePeer(ctx context.Context, peer *model.Peer, expiresAt *time.Time) error {
	if peer.Xray == nil {
		return fmt.Errorf("peer %d has no xray attachment: %w", peer.ID, model.ErrValidation)
	}
	client := clientFor(peer, expiresAt)
	payload, err := settingsPayload(peer.Xray.InboundID, []Client{client})
	if err != nil {
		return err
	}
	path := "panel/api/inbounds/updateClient/" + client.ID
	if err := w.request(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("update client %s: %w", client.ID, err)
	}
	return nil
}

// EnablePeer turns the peer's panel client on regardless of row status.
func (w *Worker) EnablePeer(ctx context.Context, peer *model.Peer) error {
	return w.setEnabled(ctx, peer, true)
}

// DisablePeer turns the peer's panel client off regardless of row status.
func (w *Worker) DisablePeer(ctx context.Context, peer *model.Peer) error {
	return w.setEnabled(ctx, peer, false)
}

func (w *Worker) setEnabled(ctx context.Context, peer *model.Peer, enabled bool) error {
	if peer.Xray == nil {
		return fmt.Errorf("peer %d has no xray attachment: %w", peer.ID, model.ErrValidation)
	}
	client := clientFor(peer, nil)
	client.Enable = enabled
	payload, err := settingsPayload(peer.Xray.InboundID, []Client{client})
	if err != nil {
		return err
	}
	path := "panel/api/inbounds/updateClient/" + client.ID
	if err := w.request(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("toggle client %s: %w", client.ID, err)
	}
	w.log.Info().Str("client", client.ID).Bool("enabled", enabled).Msg("client toggled")
	return nil
}

// DeletePeer removes the peer's client from its inbound.
func (w *Worker) DeletePeer(ctx context.Context, peer *model.Peer) error {
	if peer.Xray == nil {
		return fmt.Errorf("peer %d has no xray attachment: %w", peer.ID, model.ErrValidation)
	}
	id := strconv.FormatInt(peer.ID, 10)
	path := fmt.Sprintf("panel/api/inbounds/%d/delClient/%s", peer.Xray.InboundID, id)
	if err := w.request(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("delete client %s: %w", id, err)
	}
	return nil
}

// IsConnected reports whether the peer's client shows up in the panel's
// online list. An expired session is renewed but this probe reports the
// peer offline; the next cycle queries through the fresh session.
func (w *Worker) IsConnected(ctx context.Context, peer *model.Peer) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var emails []string
	err := w.doLocked(ctx, http.MethodPost, "panel/api/inbounds/onlines", nil, &emails)
	if errors.Is(err, ErrAuthExpired) {
		w.log.Warn().Msg("panel session expired, logging in again")
		if err := w.loginLocked(ctx); err != nil {
			return false, fmt.Errorf("renew session: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list onlines: %w", err)
	}
	for _, email := range emails {
		if email == peer.Name {
			return true, nil
		}
	}
	return false, nil
}

// GetInbound fetches one inbound's full record.
func (w *Worker) GetInbound(ctx context.Context, inboundID int64) (*Inbound, error) {
	var inbound Inbound
	path := fmt.Sprintf("panel/api/inbounds/get/%d", inboundID)
	if err := w.request(ctx, http.MethodGet, path, nil, &inbound); err != nil {
		return nil, fmt.Errorf("get inbound %d: %w", inboundID, err)
	}
	return &inbound, nil
}

// ConnectionString renders the vless:// URL a client app imports, built
// from the inbound's Reality stream settings.
func (w *Worker) ConnectionString(ctx context.Context, peer *model.Peer) (string, error) {
	if peer.Xray == nil {
		return "", fmt.Errorf("peer %d has no xray attachment: %w", peer.ID, model.ErrValidation)
	}
	inbound, err := w.GetInbound(ctx, peer.Xray.InboundID)
	if err != nil {
		return "", err
	}

	var stream streamSettings
	if err := json.Unmarshal([]byte(inbound.StreamSettings), &stream); err != nil {
		return "", fmt.Errorf("decode stream settings for inbound %d: %w", inbound.ID, err)
	}

	reality := stream.Reality
	spiderX := reality.Settings.SpiderX
	if spiderX == "" {
		spiderX = "/"
	}
	params := url.Values{}
	params.Set("type", stream.Network)
	params.Set("security", stream.Security)
	params.Set("pbk", reality.Settings.PublicKey)
	params.Set("fp", reality.Settings.Fingerprint)
	if len(reality.ServerNames) > 0 {
		params.Set("sni", reality.ServerNames[0])
	}
	if len(reality.ShortIDs) > 0 {
		params.Set("sid", reality.ShortIDs[0])
	}
	params.Set("spx", spiderX)
	if peer.Xray.Flow != "" {
		params.Set("flow", peer.Xray.Flow)
	}

	id := strconv.FormatInt(peer.ID, 10)
	fragment := url.PathEscape(inbound.Remark + "-" + peer.Name)
	return fmt.Sprintf("vless://%s@%s:%d?%s#%s", id, w.host, inbound.Port, params.Encode(), fragment), nil
}
