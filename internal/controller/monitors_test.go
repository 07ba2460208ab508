package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"triarb/internal/model"
)

func usdt(free float64) map[string]model.Balance {
	return map[string]model.Balance{"USDT": {Asset: "USDT", Free: free}}
}

func TestController_Verify(t *testing.T) {
	t.Run("installs balance and baseline", func(t *testing.T) {
		f := newFixture(t, testConfig(), testLimits())
		f.client.On("Balances", mock.Anything).Return(usdt(512), nil)

		require.NoError(t, f.ctrl.Verify(context.Background()))
		v := f.state.View()
		assert.Equal(t, 512.0, v.Limits.AccountBalance)
		assert.Equal(t, 512.0, v.Limits.Baseline)
		assert.Equal(t, 512.0, v.Stats.CurrentBalance)
	})

	t.Run("empty wallet", func(t *testing.T) {
		f := newFixture(t, testConfig(), testLimits())
		f.client.On("Balances", mock.Anything).Return(map[string]model.Balance{}, nil)

		assert.ErrorIs(t, f.ctrl.Verify(context.Background()), ErrNoBalance)
	})

	t.Run("unreachable exchange", func(t *testing.T) {
		f := newFixture(t, testConfig(), testLimits())
		f.client.On("Balances", mock.Anything).Return(nil, errors.New("invalid api key"))

		err := f.ctrl.Verify(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify connection to mock")
	})
}

func TestController_ReconcileBalance(t *testing.T) {
	f := newFixture(t, testConfig(), testLimits())
	f.client.On("Balances", mock.Anything).Return(usdt(380), nil)

	require.True(t, f.state.BeginTrade())
	f.ctrl.ReconcileBalance(context.Background())
	assert.Equal(t, 400.0, f.state.View().Stats.CurrentBalance, "no refresh while a trade is in flight")

	f.state.EndTrade()
	f.ctrl.ReconcileBalance(context.Background())
	v := f.state.View()
	assert.Equal(t, 380.0, v.Stats.CurrentBalance)
	assert.Equal(t, 400.0, v.Limits.Baseline)
	assert.InDelta(t, 5.0, v.Drawdown(), 1e-9)
	assert.Contains(t, f.logs.String(), "balance updated")
}

func TestController_Report_Alerts(t *testing.T) {
	f := newFixture(t, testConfig(), testLimits())
	publisher := new(MockJournal)
	f.ctrl.AddStatusPublisher(publisher)
	publisher.On("PublishStatus", mock.Anything, mock.MatchedBy(func(s model.Status) bool {
		return s.TradesExecuted == 11 && s.Balance == 370
	})).Return(nil)

	for i := 0; i < 11; i++ {
		f.state.Record(model.Outcome{Status: model.StateRejected})
	}
	f.state.Reconcile(370)

	f.ctrl.Report(context.Background())
	publisher.AssertExpectations(t)

	logs := f.logs.String()
	assert.Contains(t, logs, "performance update")
	assert.Contains(t, logs, "low win rate alert")
	assert.Contains(t, logs, "high drawdown alert")
}

func TestController_Report_NoAlertsWhenHealthy(t *testing.T) {
	f := newFixture(t, testConfig(), testLimits())
	f.state.Record(model.Outcome{Success: true, Profit: 1})

	f.ctrl.Report(context.Background())
	assert.NotContains(t, f.logs.String(), "alert")
}

func TestController_Start(t *testing.T) {
	f := newFixture(t, testConfig(), testLimits())
	publisher := new(MockJournal)
	f.ctrl.AddStatusPublisher(publisher)

	published := make(chan struct{}, 1)
	reconciled := make(chan struct{}, 1)
	signal := func(ch chan struct{}) func(mock.Arguments) {
		return func(mock.Arguments) {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	publisher.On("PublishStatus", mock.Anything, mock.Anything).Return(nil).Run(signal(published))
	f.client.On("TopOfBook", mock.Anything).Return(map[string]model.Quote{}, nil)
	f.client.On("Balances", mock.Anything).Return(usdt(400), nil).Run(signal(reconciled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Start(ctx) }()

	for _, ch := range []chan struct{}{published, reconciled} {
		select {
		case <-ch:
		case <-time.After(3 * time.Second):
			t.Fatal("monitor did not tick")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not shut down")
	}
}
