// Package launchpad resolves Launchpad merge proposal links into their
// unified diffs.
//
// A web link such as https://code.launchpad.net/~user/proj/+git/proj/+merge/42
// is rewritten to the API base, the merge proposal resource is read to learn
// its preview_diff_link, and the raw diff is downloaded from that link. Both
// requests are paced by a shared rate limiter.
package launchpad
