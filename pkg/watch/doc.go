/*
Package watch maps filesystem changes to task runs.

Each Rule owns a small state machine:

	idle --event--> debouncing --quiet period--> running --done--> idle
	                  ^    |                        |
	                  +----+ event resets timer     | event sets pending
	                                                v
	                                   debouncing (one follow-up run)

A failing run is logged and reported to clients as a build-error signal; the
coordinator keeps watching.
*/
package watch
