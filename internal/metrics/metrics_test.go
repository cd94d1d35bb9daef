package metrics

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	convey.Convey("Collectors are served from the registry", t, func() {
		FramesRead.WithLabelValues("cam-test").Add(3)
		SetRunning("cam-test", true)

		convey.So(testutil.ToFloat64(FramesRead.WithLabelValues("cam-test")), convey.ShouldEqual, 3.0)
		convey.So(testutil.ToFloat64(Running.WithLabelValues("cam-test")), convey.ShouldEqual, 1.0)

		SetRunning("cam-test", false)
		convey.So(testutil.ToFloat64(Running.WithLabelValues("cam-test")), convey.ShouldEqual, 0.0)

		rec := httptest.NewRecorder()
		Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		convey.So(rec.Code, convey.ShouldEqual, 200)
		convey.So(string(body), convey.ShouldContainSubstring, `riverwatch_frames_read_total{camera="cam-test"} 3`)
	})
}

func TestExportedCollectorsDocumented(t *testing.T) {
	convey.Convey("Every exported collector carries a doc comment", t, func() {
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, "metrics.go", nil, parser.ParseComments)
		convey.So(err, convey.ShouldBeNil)

		var undocumented []string
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.VAR {
				continue
			}
			for _, spec := range gen.Specs {
				vs := spec.(*ast.ValueSpec)
				for _, name := range vs.Names {
					if !name.IsExported() {
						continue
					}
					if vs.Doc == nil && (len(gen.Specs) > 1 || gen.Doc == nil) {
						undocumented = append(undocumented, name.Name)
					}
				}
			}
		}
		convey.So(undocumented, convey.ShouldBeEmpty)
	})
}
