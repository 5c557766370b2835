// Command cssdebug prints the computed styles the copy interceptor would
// carry onto the clone of every element matching a selector.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"pasteinliner/dom"
	"pasteinliner/reconcile"
)

func main() {
	url := "https://example.com/"
	sel := "img"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if len(os.Args) > 2 {
		sel = os.Args[2]
	}
	log.Printf("fetch %s", url)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("User-Agent", "cssdebug/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	doc, err := dom.ParseDocument(context.Background(), resp.Body, url, &dom.StyleOptions{
		Client: http.DefaultClient,
		Header: http.Header{"User-Agent": {"cssdebug/1.0"}},
	})
	if err != nil {
		log.Fatal(err)
	}
	nodes, err := dom.QuerySelectorAll(doc.Root, sel)
	if err != nil {
		log.Fatal(err)
	}
	for _, n := range nodes {
		printNode(doc, n)
	}

	doc.SelectAll()
	r := doc.Selection.RangeAt(0)
	rc := &reconcile.Reconciler{}
	rep := rc.Styles(r.CloneContents(), r)
	fmt.Printf("reconcile %s\n", rep)
}

func printNode(doc *dom.Document, n *html.Node) {
	st := doc.ComputedStyle(n)
	var props []string
	for _, p := range reconcile.AllowList {
		if v := st[p]; v != "" && !reconcile.IsNoOp(p, v) {
			props = append(props, p+": "+v)
		}
	}
	sort.Strings(props)
	fmt.Printf("node=%s id=%q class=%q visible=%v\n  %s\n", n.Data, dom.GetAttr(n, "id"),
		dom.GetAttr(n, "class"), doc.Visible(n), strings.Join(props, ";\n  "))
}
