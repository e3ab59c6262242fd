//go:build integration

package campaign

import (
	"context"
	"errors"
	"testing"

	"leadgen-platform/internal/config"
	"leadgen-platform/internal/dispatch"
	"leadgen-platform/internal/ledger"
	"leadgen-platform/internal/pricing"
	"leadgen-platform/internal/testutil/pgtest"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type launchFixture struct {
	db       *sqlx.DB
	svc      *Service
	ledger   *ledger.Service
	queue    *dispatch.PostgresQueue
	launcher *Launcher
}

func newLaunchFixture(t *testing.T) *launchFixture {
	t.Helper()
	db := pgtest.Open(t)
	pgtest.SetPrice(t, db, string(pricing.ActionOutboundCall), 500)

	led := ledger.NewService(db, pricing.NewService(pricing.NewPostgresRepo(db)), nil, config.LedgerConfig{})
	q := dispatch.NewPostgresQueue(db)
	return &launchFixture{
		db:       db,
		svc:      NewService(NewPostgresRepo(db)),
		ledger:   led,
		queue:    q,
		launcher: NewLauncher(db, led, q, nil),
	}
}

var threeLeads = []dispatch.Lead{
	{Phone: "+15550000001", Name: "Ada"},
	{Phone: "+15550000002"},
	{Phone: "+15550000003", ID: "lead-3"},
}

func TestLaunch_DebitsEnqueuesAndActivates(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, f.db, 2000)

	c, err := f.svc.Create(ctx, user, CreateRequest{Name: "Spring sellers", ScriptRef: "seller-v1"})
	require.NoError(t, err)

	res, err := f.launcher.Launch(ctx, user, c.CampaignID, threeLeads, "req-1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Enqueued)
	require.Equal(t, int64(1500), res.TokensUsed)
	require.Equal(t, int64(500), res.Balance)
	require.Equal(t, StatusActive, res.Campaign.Status)

	counts, err := f.queue.CountByStatus(ctx, c.CampaignID)
	require.NoError(t, err)
	require.Equal(t, dispatch.StatusCounts{dispatch.StatusPending: 3}, counts)

	again, err := f.launcher.Launch(ctx, user, c.CampaignID, threeLeads, "req-1")
	require.NoError(t, err)
	require.True(t, again.Replayed)
	counts, err = f.queue.CountByStatus(ctx, c.CampaignID)
	require.NoError(t, err)
	require.Equal(t, 3, counts.Total())

	usage, err := f.ledger.ListUsage(ctx, user, ledger.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	md, ok := usage[0].Metadata.V.(ledger.OutboundCallMetadata)
	require.True(t, ok)
	require.Equal(t, c.CampaignID, md.CampaignID)
	require.Equal(t, 3, md.LeadCount)
}

func TestLaunch_InsufficientTokensLeavesNothingBehind(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, f.db, 1000)

	c, err := f.svc.Create(ctx, user, CreateRequest{Name: "Too big"})
	require.NoError(t, err)

	_, err = f.launcher.Launch(ctx, user, c.CampaignID, threeLeads, "")
	var ins *ledger.InsufficientTokensError
	require.True(t, errors.As(err, &ins))
	require.Equal(t, int64(1500), ins.Required)
	require.Equal(t, int64(1000), ins.Balance)

	counts, err := f.queue.CountByStatus(ctx, c.CampaignID)
	require.NoError(t, err)
	require.Zero(t, counts.Total())

	stored, err := f.svc.Get(ctx, user, c.CampaignID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)

	bal, err := f.ledger.GetBalance(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal.Tokens)
}

func TestLaunch_BadLeadRollsBackDebit(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, f.db, 5000)

	c, err := f.svc.Create(ctx, user, CreateRequest{Name: "Typo"})
	require.NoError(t, err)

	_, err = f.launcher.Launch(ctx, user, c.CampaignID, []dispatch.Lead{{Phone: "+15550000001"}, {Phone: "call me"}}, "")
	require.ErrorIs(t, err, dispatch.ErrInvalidArgument)

	bal, err := f.ledger.GetBalance(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(5000), bal.Tokens)
}

func TestLaunch_CompletedCampaignIsRejected(t *testing.T) {
	f := newLaunchFixture(t)
	ctx := context.Background()
	user := pgtest.CreateUser(t, f.db, 5000)

	c, err := f.svc.Create(ctx, user, CreateRequest{Name: "Done"})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, user, c.CampaignID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, user, c.CampaignID)
	require.NoError(t, err)

	_, err = f.launcher.Launch(ctx, user, c.CampaignID, threeLeads, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	other := pgtest.CreateUser(t, f.db, 5000)
	_, err = f.launcher.Launch(ctx, other, c.CampaignID, threeLeads, "")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, user, c.CampaignID))
}
