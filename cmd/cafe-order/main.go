// Command cafe-order places an order against a running cafe-diem server,
// standing in for the storefront's cart and checkout button.
//
//	cafe-order -server http://localhost:8080 1 3 5
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mthsnx/caffe-diem/internal/cart"
	"github.com/mthsnx/caffe-diem/internal/menu"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "cafe-diem base URL")
	menuPath := flag.String("menu", "configs/menu.yaml", "menu file")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] item-id...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	catalog, err := menu.LoadFile(*menuPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load menu")
	}

	c := cart.New()
	for _, arg := range flag.Args() {
		id, err := strconv.Atoi(arg)
		if err != nil {
			log.Fatal().Str("arg", arg).Msg("Item id must be a number")
		}
		item, err := catalog.Get(id)
		if err != nil {
			log.Fatal().Err(err).Msg("Unknown menu item")
		}
		c.Add(item)
		log.Info().Str("item", item.Name).Str("price", item.Price.StringFixed(2)).Msg("Added to cart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	receipt, err := c.Checkout(ctx, cart.NewHTTPSubmitter(*server, *timeout))
	if err != nil {
		log.Fatal().Err(err).Msg("Checkout failed")
	}

	fmt.Printf("Order placed! Your code is %s\nTotal: $%s\nPlease present this code at the pickup counter.\n",
		receipt.OrderCode, receipt.Total.StringFixed(2))
}
