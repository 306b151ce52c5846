// Package testing runs hierarchical section tests whose sections can
// continue asynchronously, on the main thread or on another goroutine.
//
// # Quick Start
//
// A test case body is executed repeatedly until every section has run.
// Each run enters at most one unfinished section per level:
//
//	func TestCache(t *testing.T) {
//	    mltest.RunT(t, nil, "cache", func(s *mltest.S) {
//	        c := newCache()
//
//	        s.Section("empty", func(s *mltest.S) {
//	            s.Require(c.Len() == 0)
//	        })
//
//	        s.Section("after put", func(s *mltest.S) {
//	            c.Put("k", 1)
//	            s.Require(c.Len() == 1, "len = %d", c.Len())
//	        })
//	    })
//	}
//
// # Continuations
//
// A section can hand off the rest of its work with ContinueAsync, which
// resumes on the main thread, or ContinueInThread, which resumes on a new
// goroutine. The continuation runs after the section body and the test case
// body have returned, and the sections it opens become children of the
// section that scheduled it:
//
//	s.Section("load", func(s *mltest.S) {
//	    view.Load(url)
//	    s.ContinueAsync(func(s *mltest.S) {
//	        s.Section("rendered", func(s *mltest.S) { ... })
//	        s.Section("scrolls", func(s *mltest.S) { ... })
//	    })
//	})
//
// Only one continuation may be pending per run. While waiting, the runner
// pumps the dispatcher's main loop, so calls dispatched from other
// goroutines keep running.
//
// # Import Alias
//
// Since this package has the same name as the standard library testing
// package, import it with an alias:
//
//	import mltest "github.com/go-drift/mainloop/pkg/testing"
package testing
