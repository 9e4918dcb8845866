package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/config"
)

// Result is the single completion of a Resolver run.
type Result struct {
	Identity *Identity
	Err      error
}

// Resolver runs identity resolution as a cancellable asynchronous task.
type Resolver struct {
	cfg config.IdentityConfig
	log *zap.Logger
	now func() time.Time
}

func NewResolver(cfg config.IdentityConfig, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.L()
	}
	return &Resolver{cfg: cfg, log: log.Named("identity"), now: time.Now}
}

// Start resolves in the background. The channel yields exactly one Result and
// is then closed. Cancelling ctx yields ctx.Err().
func (r *Resolver) Start(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		id, err := r.Resolve(ctx)
		out <- Result{Identity: id, Err: err}
	}()
	return out
}

// Resolve loads the key and checks the entitlement synchronously.
func (r *Resolver) Resolve(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, pid, err := LoadOrGenEd25519(r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	id := &Identity{ID: pid, UserID: string(pid), DisplayName: r.cfg.DisplayName, PrivateKey: priv}

	if claims, err := r.entitlement(); err != nil {
		if r.cfg.RequireEntitlement {
			return nil, fmt.Errorf("%w: %v", ErrNotEntitled, err)
		}
		r.log.Warn("entitlement check failed, continuing unentitled", zap.Error(err))
	} else if claims != nil {
		id.UserID = claims.Subject
		if claims.Name != "" {
			id.DisplayName = claims.Name
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = "Player-" + strings.TrimPrefix(string(id.ID), "pk:ed25519:")[:6]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.log.Info("identity resolved",
		zap.String("peer", string(id.ID)),
		zap.String("user_id", id.UserID),
		zap.String("display_name", id.DisplayName))
	return id, nil
}

// entitlement returns nil claims and no error when no token is configured
// and none is required.
func (r *Resolver) entitlement() (*EntitlementClaims, error) {
	if r.cfg.EntitlementToken == "" {
		if r.cfg.RequireEntitlement {
			return nil, fmt.Errorf("no entitlement token")
		}
		return nil, nil
	}
	pub, err := ParsePublicKey(r.cfg.EntitlementPublicKey)
	if err != nil {
		return nil, err
	}
	return VerifyEntitlement(r.cfg.EntitlementToken, pub, r.now())
}
