package billing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// defaultCatalogPageSize bounds one catalog sync pass. Pagination is not
// continued past the first page.
const defaultCatalogPageSize = 100

// defaultPlanCurrency is stored when the provider omits the currency.
const defaultPlanCurrency = "USD"

// CatalogSync pulls the provider's active recurring price catalog and upserts
// local plan records. It owns the Plan entity.
type CatalogSync struct {
	plans    PlanStore
	gateway  external.ProviderGateway
	logger   *slog.Logger
	pageSize int
}

// NewCatalogSync creates a CatalogSync with the given store and gateway.
func NewCatalogSync(plans PlanStore, gateway external.ProviderGateway, logger *slog.Logger) *CatalogSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogSync{
		plans:    plans,
		gateway:  gateway,
		logger:   logger,
		pageSize: defaultCatalogPageSize,
	}
}

// Run fetches one page of active prices with expanded product data and
// upserts every item passing the sync predicate. Items failing the predicate
// are skipped and logged, not treated as errors. Returns the plans touched in
// this pass.
func (c *CatalogSync) Run(ctx context.Context) ([]*types.Plan, error) {
	prices, err := c.gateway.ListActiveRecurringPrices(ctx, c.pageSize)
	if err != nil {
		return nil, err
	}

	var touched []*types.Plan
	for i := range prices {
		price := &prices[i]
		if reason := syncSkipReason(price); reason != "" {
			c.logger.InfoContext(ctx, "skipping price during catalog sync",
				"price_id", price.PriceID,
				"reason", reason,
			)
			continue
		}

		plan := &types.Plan{
			ID:              uuid.NewString(),
			StripeProductID: price.ProductID,
			StripePriceID:   price.PriceID,
			Name:            price.ProductName,
			Amount:          price.UnitAmount,
			Currency:        normalizeCurrency(price.Currency),
			Interval:        price.Interval,
		}
		if price.ProductDescription != "" {
			desc := price.ProductDescription
			plan.Description = &desc
		}

		if err := c.plans.Upsert(ctx, plan); err != nil {
			return nil, err
		}
		touched = append(touched, plan)
	}

	c.logger.InfoContext(ctx, "catalog sync pass completed",
		"fetched", len(prices),
		"upserted", len(touched),
	)
	return touched, nil
}

// List returns the cached plan catalog.
func (c *CatalogSync) List(ctx context.Context) ([]*types.Plan, error) {
	return c.plans.List(ctx)
}

// GetByID returns the cached plan with the given local id.
func (c *CatalogSync) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	return c.plans.GetByID(ctx, id)
}

// normalizeCurrency upper-cases the provider's lowercase ISO code and falls
// back to USD when the provider omits it.
func normalizeCurrency(currency string) string {
	if currency == "" {
		return defaultPlanCurrency
	}
	return strings.ToUpper(currency)
}

// syncSkipReason applies the catalog sync predicate and returns a non-empty
// reason when the item must be skipped.
func syncSkipReason(price *types.PriceWithProduct) string {
	switch {
	case price.Type != "recurring":
		return "not a recurring price"
	case price.UnitAmount <= 0:
		return "non-positive unit amount"
	case !price.ProductExpanded:
		return "product not expanded"
	case price.ProductDeleted:
		return "product is deleted"
	case price.Interval == "":
		return "missing recurring interval"
	}
	return ""
}
