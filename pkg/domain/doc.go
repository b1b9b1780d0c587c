/*
Package domain contains the core models shared by the kiln build orchestrator.

It defines the entities that flow between the task executor, the asset
pipelines and the watch loop. The package has no I/O and no third-party
dependencies.

# Key Entities

  - Task: a named unit in the orchestration graph (leaf, series or parallel).
  - Outcome: the result of running a task, including failed children.
  - FileRecord: a file travelling through a pipeline (path, bytes, category).
  - Signal: a push notification for connected development clients.
*/
package domain
