// Package experiment defines the experiment-definition document, the naming
// scheme for output images, and the generator that turns shuffled per-class
// name lists into one definition per (subject, experiment) pair.
//
// Class lists are sliced by experiment id: experiment e uses lines
// [e*N, (e+1)*N) of every list. That only yields disjoint random subsets when
// the lists were shuffled beforehand, so LoadClassLists requires the marker
// file written by the shuffle tool unless told otherwise.
package experiment
