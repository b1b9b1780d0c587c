/*
Package kiln is a front-end build orchestrator: named tasks composed in series
and in parallel, asset pipelines that stream files through transformation
stages into sinks, a content-addressed build cache, and a watch mode that
reruns affected tasks and pushes reload signals to connected browsers.

# Concept

A project is described by a kiln.yaml file (or the built-in default layout
when none exists). Pipelines select source files, run them through stages
such as concat, rename, minify, useref, optimize-image or an external tool,
and hand the result to sinks (dest, broadcast, notify, s3). Tasks compose
pipelines and other tasks:

	tasks:
	  build:
	    series:
	      - clean
	      - parallel: [styles, images]
	  default: build

Stages that are pure functions of their input (image optimization, tools
declared pure) are cached by stage identity and input hash, so unchanged
files are never recomputed, across runs when a durable backend is used.

# Usage

	engine, err := kiln.New("./site")
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	outcome := engine.Build(ctx)
	if !outcome.Succeeded() {
		log.Fatal(outcome.Summary())
	}

Watch mode runs the watch-init task and then follows the watch rules:

	go engine.Serve(ctx)
	_ = engine.Watch(ctx)
*/
package kiln
