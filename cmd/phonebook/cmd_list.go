package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/phonebook/internal/cache"
	"github.com/HerbHall/phonebook/internal/client"
	"github.com/HerbHall/phonebook/pkg/models"
	"go.uber.org/zap"
)

func runList(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "phonebook server URL")
	keyword := fs.String("q", "", "filter by name, phone or email")
	sortBy := fs.String("sort", models.SortByName, "sort field: name, phone or createdAt")
	desc := fs.Bool("desc", false, "sort in descending order")
	limit := fs.Int("limit", models.DefaultLimit, "page size")
	all := fs.Bool("all", false, "load every page")
	timeout := fs.Duration("timeout", 30*time.Second, "overall request timeout")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store := cache.NewStore(*limit)
	dir := models.SortAsc
	if *desc {
		dir = models.SortDesc
	}
	store.Dispatch(cache.SortChanged{SortBy: *sortBy, SortMode: dir})
	store.Dispatch(cache.KeywordChanged{Keyword: *keyword})

	coord := cache.NewCoordinator(client.New(*serverURL), store, zap.NewNop())
	defer coord.Close()

	if err := coord.Search(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ls failed: %v\n", err)
		os.Exit(1)
	}
	for *all && coord.LoadMore() {
		coord.Wait()
		if err := store.State().Err; err != nil {
			fmt.Fprintf(os.Stderr, "ls failed: %v\n", err)
			os.Exit(1)
		}
	}

	st := store.State()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tEMAIL")
	for _, c := range st.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Phone, c.Email)
	}
	tw.Flush()
	fmt.Printf("%d of %d contacts (page %d of %d)\n",
		len(st.Items), st.Pagination.Total, st.Pagination.Page, st.Pagination.Pages)
}
