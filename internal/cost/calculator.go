package cost

// Rates holds token pricing and the image token approximation used for
// pre-submission estimates (USD per million tokens).
type Rates struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
	// BytesPerToken approximates image tokens from encoded byte size.
	BytesPerToken float64 `yaml:"bytes_per_token" mapstructure:"bytes_per_token"`
}

// Fixed per-image token overheads: context text in, alt text out.
const (
	contextTokensPerImage = 200
	outputTokensPerImage  = 50
)

// DefaultRates returns pricing for the default vision model.
func DefaultRates() Rates {
	return Rates{
		InputPerMTok:  3.00,
		OutputPerMTok: 15.00,
		BytesPerToken: 0.75 * 1024,
	}
}

// Calculator computes estimated and actual inference costs.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.BytesPerToken <= 0 {
		rates.BytesPerToken = DefaultRates().BytesPerToken
	}
	return &Calculator{rates: rates}
}

// EstimateImage approximates the cost of one image submission from its
// encoded byte size: image tokens plus fixed context and output tokens.
func (c *Calculator) EstimateImage(imageBytes int64) float64 {
	imageTokens := float64(imageBytes) / c.rates.BytesPerToken
	inputTokens := imageTokens + contextTokensPerImage

	inCost := (inputTokens / 1e6) * c.rates.InputPerMTok
	outCost := (outputTokensPerImage / 1e6) * c.rates.OutputPerMTok
	return inCost + outCost
}

// EstimateBatch sums per-image estimates for a batch's members.
func (c *Calculator) EstimateBatch(imageSizes []int64) float64 {
	var total float64
	for _, size := range imageSizes {
		total += c.EstimateImage(size)
	}
	return total
}

// Actual computes the cost of a completed call from reported token usage.
func (c *Calculator) Actual(inputTokens, outputTokens int64) float64 {
	inCost := (float64(inputTokens) / 1e6) * c.rates.InputPerMTok
	outCost := (float64(outputTokens) / 1e6) * c.rates.OutputPerMTok
	return inCost + outCost
}
