package cmn

import "github.com/golang/glog"

// Thin wrapper so call sites read cmn.Infof/cmn.Warningf the way the
// teacher's own modules call glog directly — kept as a seam so a future
// structured-logging backend can be swapped in behind one file.

func Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { glog.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { glog.Errorf(format, args...) }
func Fatalf(format string, args ...interface{})   { glog.Fatalf(format, args...) }

// V reports whether verbosity level l is enabled, mirroring glog.V so
// hot-path logging (e.g. per-page pipeline steps) is skipped at run time
// when the level is off.
func V(l glog.Level) glog.Verbose { return glog.V(l) }

func FlushLogs() { glog.Flush() }
