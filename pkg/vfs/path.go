package vfs

import "strings"

// isRoot reports whether p addresses the node itself.
func isRoot(p string) bool {
	return p == "" || p == "/"
}

// splitPath separates the leading component from the remainder. The
// remainder stays rooted so it can be handed straight to a child node:
// "/a/b/c" becomes ("a", "/b/c") and "/a" becomes ("a", "/").
func splitPath(p string) (string, string) {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i:]
	}
	return p, "/"
}

// splitLast separates the parent path from the final component:
// "/a/b/c" becomes ("/a/b", "c") and "/a" becomes ("/", "a").
func splitLast(p string) (string, string) {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i > 0 {
		return p[:i], p[i+1:]
	}
	if strings.HasPrefix(p, "/") {
		return "/", p[1:]
	}
	return "/", p
}
