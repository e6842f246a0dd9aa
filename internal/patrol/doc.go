// Package patrol implements the robot's autonomous decision loop.
//
// Each cycle reads the operator's run flag, polls the range sensor, and
// either performs an obstacle-avoidance maneuver or captures a frame,
// classifies it, and gates the classifier verdict into a semantic label.
// Leaf detections stop the robot and are handed to an EventSink before a
// short debounce pause.
//
// Hardware and services are reached only through the interfaces declared in
// this package; the loop owns the handles it is constructed with for its
// whole lifetime.
package patrol
