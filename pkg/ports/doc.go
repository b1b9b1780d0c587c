/*
Package ports defines the driven ports (interfaces) of the kiln build engine.

These interfaces decouple the executor, pipelines and watch loop from concrete
storage and transport implementations.

# Key Interfaces

  - BuildCache: content-addressed store of expensive stage outputs.
  - Broadcaster: pushes reload signals to connected development clients.
*/
package ports
