/*
Package dsl provides a fluent builder for kiln task graphs.

Tasks can be declared in any order; Build registers them children-first,
reporting undefined references and cycles as *domain.ConfigurationError.

Example usage:

	b := dsl.New()

	b.Add("styles").Runs(stylesPipeline)
	b.Add("images").Runs(imagesPipeline)
	b.Add("clean").Func(func(ctx context.Context) error {
		return os.RemoveAll("dist")
	})

	b.Add("build").
		Describe("Full production build").
		Series("clean", "assets")

	b.Add("assets").Parallel("styles", "images")

	registry, err := b.Build()
	// ... pass registry to tasks.NewExecutor(...)
*/
package dsl
