package partner

import "time"

// Characteristics are the randomly generated traits that drive a partner's
// simulated behaviour. RiskAppetite and BrandAuthority sit in [0,1];
// PricingStrategy is the price multiplier in [0.7, 2.0].
type Characteristics struct {
	RiskAppetite    float64 `json:"riskAppetite"`
	PricingStrategy float64 `json:"pricingStrategy"`
	BrandAuthority  float64 `json:"brandAuthority"`
	Specialization  string  `json:"specialization"`
}

// Identity is generated once on first contact and reused for every later
// request under the same partner id.
type Identity struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Characteristics Characteristics `json:"characteristics"`
	LogoURL         string          `json:"logoUrl"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// QuoteResult is the partner's answer to a quote request. The simulation is
// best-effort and always returns complete.
type QuoteResult struct {
	PartnerID       string          `json:"partnerId"`
	PartnerName     string          `json:"partnerName"`
	Characteristics Characteristics `json:"characteristics"`
	LogoURL         string          `json:"logoUrl"`
	Status          string          `json:"status"`
	Price           float64         `json:"price"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// logoRecord wraps the rendered SVG so it fits the JSON-valued store.
type logoRecord struct {
	ContentType string `json:"contentType"`
	SVG         string `json:"svg"`
}
