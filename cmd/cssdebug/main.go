// Command cssdebug prints the style record the cloner captures for the
// elements of a page.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/charmbracelet/log"
	"github.com/yosssi/gohtml"
	"golang.org/x/net/html"

	"codeshot/shot"
)

func main() {
	selFlag := flag.String("sel", "*", "only print elements matching this selector")
	cloneFlag := flag.Bool("clone", false, "print the captured clone of the first match instead")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: cssdebug [-sel selector] [-clone] <file|url>")
		os.Exit(2)
	}
	target := flag.Arg(0)
	sel, err := cascadia.Compile(*selFlag)
	if err != nil {
		log.Fatal("bad selector", "sel", *selFlag, "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	doc, base, err := load(ctx, target)
	if err != nil {
		log.Fatal("load", "target", target, "err", err)
	}
	ss := shot.BuildStylesheet(ctx, doc, base, &shot.StylesheetOptions{Logger: log.Default()})
	log.Info("stylesheet ready", "base", base, "fontFaces", len(ss.FontFaces()))

	matches := cascadia.QueryAll(doc, sel)
	if *cloneFlag {
		if len(matches) == 0 {
			log.Fatal("no element matches", "sel", *selFlag)
		}
		clone, err := shot.NewCloner(shot.ClonerOptions{Stylesheet: ss}).Clone(ctx, matches[0])
		if err != nil {
			log.Fatal("clone", "err", err)
		}
		var b strings.Builder
		if err := html.Render(&b, clone); err != nil {
			log.Fatal("render", "err", err)
		}
		fmt.Println(gohtml.Format(b.String()))
		return
	}
	for _, n := range matches {
		cls := strings.Fields(shot.GetAttr(n, "class"))
		fmt.Printf("node=%s id=%q classes=%v style=%q\n", n.Data, shot.GetAttr(n, "id"), cls, shot.StyleRecord(shot.ComputeStyle(n, ss)))
	}
}

func load(ctx context.Context, target string) (*html.Node, string, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("User-Agent", "cssdebug/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		defer resp.Body.Close()
		doc, err := html.Parse(io.LimitReader(resp.Body, 16<<20))
		return doc, target, err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	doc, err := html.Parse(f)
	return doc, "file://" + filepath.ToSlash(abs), err
}
