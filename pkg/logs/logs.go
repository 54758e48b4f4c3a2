// Package logs wires klog's logging flags onto the CLI flag sets and takes
// care of flushing on exit. Library code never configures logging itself; it
// takes a logger from the context via klog.FromContext.
package logs

import (
	goflag "flag"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var klogFlags goflag.FlagSet

func init() {
	klog.InitFlags(&klogFlags)
}

// AddFlags exposes klog's flags (-v, --vmodule, ...) on the supplied pflag
// set.
func AddFlags(fs *pflag.FlagSet) {
	fs.AddGoFlagSet(&klogFlags)
}

// Flush writes out any buffered log I/O. Call it before the process exits.
func Flush() {
	klog.Flush()
}
