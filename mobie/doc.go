/*
Package mobie holds the pieces shared by every part of the volume importer: logging,
the error types callers can inspect, and the parameter types describing a volume
(resolution, chunk shapes, scale factors).

Heavy computation (downscaling, statistics over large volumes) is not done here.  It is
submitted to a workflow engine (see package workflow) and the importer only checks the
engine's success flag.
*/
package mobie
