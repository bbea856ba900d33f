// CLAUDE:SUMMARY Drops configured resource types (images, fonts, media, stylesheets) on the monitored tab; only matching requests are intercepted.
package browser

import (
	"sort"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps resource_blocking names to DevTools resource types. The feed
// needs documents, scripts and XHR/fetch, so those have no entry.
var blockable = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// resolveBlocked turns configured names into resource types, deduplicated and
// sorted. Names it does not know are returned separately.
func resolveBlocked(names []string) (types []proto.NetworkResourceType, unknown []string) {
	seen := make(map[proto.NetworkResourceType]bool)
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		typ, ok := blockable[key]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		if !seen[typ] {
			seen[typ] = true
			types = append(types, typ)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, unknown
}

// blockResources registers one hijack route per type. The browser only pauses
// requests matching a route, so everything else flows untouched.
func blockResources(page *rod.Page, types []proto.NetworkResourceType) error {
	router := page.HijackRequests()
	for _, typ := range types {
		err := router.Add("*", typ, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			return err
		}
	}
	go router.Run()
	return nil
}
