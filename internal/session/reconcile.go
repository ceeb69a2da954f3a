package session

import (
	"context"
	"log/slog"

	"github.com/easyvpn/easyvpn-client/internal/account"
)

// installSnapshotLocked replaces the entitlement snapshot, notifies the
// account-change callback, and runs the reconciliation rule against the new
// snapshot. Callers hold opMu, which makes the install plus reconciliation
// one atomic step relative to every other gateway operation.
func (c *Controller) installSnapshotLocked(ctx context.Context, acct *account.Account) {
	snapshot := acct.Clone()

	c.mu.Lock()
	c.account = snapshot
	callback := c.onAccountChange
	c.mu.Unlock()

	if callback != nil {
		callback(snapshot.Clone())
	}

	c.reconcileLocked(ctx)
}

// reconcileLocked restores the invariant that the session may be Connected
// only while the entitlement permits it. Runs once per snapshot install,
// serialized behind opMu; the previous-state guards make a rerun against an
// unchanged snapshot a no-op, so one entitlement change can never produce
// two disconnect calls.
func (c *Controller) reconcileLocked(ctx context.Context) {
	c.mu.RLock()
	status := c.status
	reason := c.reason
	entitlement := account.EntitlementNone
	if c.account != nil {
		entitlement = c.account.Status
	}
	c.mu.RUnlock()

	switch {
	case entitlement.AllowsConnection() && status == StatusFailed && reason.EntitlementRelated():
		// The account recovered. Clear the failure so the user can
		// reconnect; never reconnect automatically.
		slog.Info("Entitlement recovered, clearing failure",
			"entitlement", string(entitlement), "reason", string(reason))
		c.setStatus(StatusDisconnected, ReasonNone)

	case !entitlement.AllowsConnection() && status.IsConnected():
		// The account lost its entitlement while a session is active. The
		// real session must be released, not just the displayed status.
		// The entitlement loss outranks the disconnect outcome: the status
		// becomes Failed(account-changed) either way.
		slog.Warn("Entitlement lost while connected, forcing disconnect",
			"entitlement", string(entitlement))
		if err := c.gw.Disconnect(ctx); err != nil {
			slog.Error("Forced disconnect failed", "error", err)
		}
		c.setStatus(StatusFailed, ReasonAccountChanged)
	}
}
