package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/halcore"
	"github.com/gogpu/halcore/pipecache"
	"github.com/gogpu/halcore/spirv"
)

func listAdapters(w io.Writer, cfg config) error {
	adapters, err := enumerate(cfg)
	if err != nil {
		return err
	}
	cache, err := openCache(cfg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAPI\tNAME\tTYPE\tBACKEND\tMAX BUFFER\tFEATURES\tCACHE")
	for i, a := range adapters {
		info := a.Info()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i, a.Api().Name(), info.Name, info.DeviceType, info.Backend,
			formatBytes(a.Limits().MaxBufferSize), featureList(a.Features()),
			cacheStatus(cache, a))
	}
	return tw.Flush()
}

// cacheStatus describes the pipeline cache entry for a.
func cacheStatus(cache *pipecache.Store, a *halcore.Adapter) string {
	key, ok := a.PipelineCacheKey()
	if !ok {
		return "-"
	}
	if cache == nil {
		return key
	}
	blob, found, err := cache.LoadAdapter(a)
	switch {
	case err != nil:
		return key + " (" + err.Error() + ")"
	case !found:
		return key + " (empty)"
	default:
		return fmt.Sprintf("%s (%s)", key, formatBytes(uint64(len(blob))))
	}
}

func featureList(f gputypes.Features) string {
	if f.IsEmpty() {
		return "-"
	}
	var names []string
	for bit := range 64 {
		if feat := gputypes.Feature(1) << bit; f.Contains(feat) {
			names = append(names, feat.String())
		}
	}
	return strings.Join(names, ",")
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return fmt.Sprintf("%dGiB", n>>30)
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKiB", n>>10)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// validateFiles checks the SPIR-V framing of each file and prints its
// header. Every file is reported; the error covers all failures.
func validateFiles(w io.Writer, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := validateFile(w, p); err != nil {
			fmt.Fprintf(w, "%s: %v\n", p, err)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func validateFile(w io.Writer, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := spirv.Normalize(b)
	if err != nil {
		return err
	}
	h, err := m.Header()
	if err != nil {
		return err
	}
	order := "native"
	if m.Swapped {
		order = "swapped"
	}
	fmt.Fprintf(w, "%s: SPIR-V %d.%d, %d words, bound %d, generator %#08x, %s byte order\n",
		path, h.Major(), h.Minor(), m.Len(), h.Bound, h.Generator, order)
	return nil
}
