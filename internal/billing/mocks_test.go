package billing

import (
	"context"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// gatewayStub implements external.ProviderGateway with canned responses and
// call recording. Shared by the reconciler, refund, catalog, and dispatcher
// tests.
type gatewayStub struct {
	customerID  string
	customerErr error

	session    *types.CheckoutSession
	sessionErr error

	subSnapshot *types.SubscriptionSnapshot
	retrieveErr error

	cancelSnap *types.SubscriptionSnapshot
	cancelErr  error

	prices    []types.PriceWithProduct
	pricesErr error

	refundSnap *types.RefundSnapshot
	refundErrs []error // consumed one per attempt; nil entries succeed

	customerCalls []string
	checkoutCalls []external.CheckoutParams
	retrieveCalls []string
	cancelCalls   int
	refundCalls   int
	listPageSize  int
}

var _ external.ProviderGateway = (*gatewayStub)(nil)

func (g *gatewayStub) FindOrCreateCustomer(_ context.Context, email string) (string, error) {
	g.customerCalls = append(g.customerCalls, email)
	return g.customerID, g.customerErr
}

func (g *gatewayStub) CreateCheckoutSession(_ context.Context, params external.CheckoutParams) (*types.CheckoutSession, error) {
	g.checkoutCalls = append(g.checkoutCalls, params)
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return g.session, nil
}

func (g *gatewayStub) RetrieveSubscription(_ context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error) {
	g.retrieveCalls = append(g.retrieveCalls, subscriptionID)
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	return g.subSnapshot, nil
}

func (g *gatewayStub) CancelSubscription(_ context.Context, _ string) (*types.SubscriptionSnapshot, error) {
	g.cancelCalls++
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return g.cancelSnap, nil
}

func (g *gatewayStub) ListActiveRecurringPrices(_ context.Context, pageSize int) ([]types.PriceWithProduct, error) {
	g.listPageSize = pageSize
	if g.pricesErr != nil {
		return nil, g.pricesErr
	}
	return g.prices, nil
}

func (g *gatewayStub) CreateRefund(_ context.Context, _ string, _ *string, _ *int64) (*types.RefundSnapshot, error) {
	g.refundCalls++
	if len(g.refundErrs) > 0 {
		err := g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return g.refundSnap, nil
}
