// Package scenarios runs the dashboard ordering scenarios against a live
// ATC. The tests need the e2e build tag, a fly binary, Chrome and
// WATS_ATC_URL (plus WATS_ATC_USERNAME and WATS_ATC_PASSWORD when the
// admin team needs credentials):
//
//	WATS_ATC_URL=http://localhost:8080 go test -tags e2e ./tests/e2e/scenarios
//
// Each file covers one dashboard behavior:
//   - ordering_test.go: cards render in creation order
//   - reorder_test.go: cards follow order-pipelines
package scenarios
