/*
Package tasks holds the task registry and the task graph executor.

Tasks are registered explicitly: a leaf wraps a Runner (usually an asset
pipeline), while series and parallel tasks compose tasks that are already
registered. Because a composed task may only reference existing names, the
graph is acyclic by construction and no cycle detection happens at run time.

A series runs its children in order and stops at the first failure. A parallel
group starts every child, waits for all of them even when some fail, and
reports the set of failed children.
*/
package tasks
