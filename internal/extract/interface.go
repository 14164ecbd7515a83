package extract

// Extractor is a pure, deterministic function over one page's HTML. It must
// never panic on malformed markup. Markup with no links or assets yields an
// empty Result and no error; a missing base URL or a parse failure yields an
// empty Result plus a non-nil error that the caller logs as an
// ErrorRecord with phase=extract, writing the page with whatever subset of
// extractors succeeded.
type Extractor func(html string, ctx *PageContext) (Result, error)

// Pipeline runs extractors in a fixed order, feeding each extractor's output
// into ctx before the next one runs so later stages can read earlier
// output (e.g. an asset extractor skipping hrefs already classified as
// navigation links). A failing extractor does not stop the pipeline; its
// error is collected and the remaining extractors still run.
func Pipeline(extractors []Extractor) func(html string, ctx *PageContext) []error {
	return func(html string, ctx *PageContext) []error {
		var errs []error
		for _, ex := range extractors {
			result, err := ex(html, ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			ctx.Links = append(ctx.Links, result.Links...)
			ctx.Assets = append(ctx.Assets, result.Assets...)
		}
		return errs
	}
}

// DefaultPipeline runs LinkExtractor then AssetExtractor. AssetExtractor
// does not read ctx.Links, so the two results do not depend on the order.
func DefaultPipeline() func(html string, ctx *PageContext) []error {
	return Pipeline([]Extractor{LinkExtractor, AssetExtractor})
}
