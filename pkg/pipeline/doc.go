/*
Package pipeline implements asset pipelines: a source selector, an ordered
chain of stages and one or more sinks.

Each execution expands the source from scratch into a finite slice of
domain.FileRecord values, feeds it through every stage in declaration order
(stage N completes before stage N+1 starts) and finally hands the result to
each sink in order, so filesystem writes happen before reload broadcasts.

Stages that implement Cacheable with a non-empty identity are looked up in the
build cache record by record; hits skip the computation entirely.
*/
package pipeline
