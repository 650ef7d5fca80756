// Command nyxex boots the exchange core and every external adapter:
// the TCP order gateway, the websocket event bridge, the admin gRPC
// service, and the Prometheus metrics endpoint. Generalized from the
// teacher's cmd/main.go (signal.NotifyContext + tomb-supervised server).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	tomb "gopkg.in/tomb.v2"

	"nyxex/internal/adminrpc"
	"nyxex/internal/common"
	"nyxex/internal/config"
	"nyxex/internal/decimalx"
	"nyxex/internal/exchange"
	"nyxex/internal/gateway"
	"nyxex/internal/market"
	"nyxex/internal/metrics"
	"nyxex/internal/xlog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("nyxex: failed to load config:", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("nyxex: invalid config:", err)
		return
	}
	xlog.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	t, ctx := tomb.WithContext(ctx)

	seed, err := config.ParseDecimal(cfg.Insurance.SeedQuote)
	if err != nil {
		log.Fatal().Err(err).Msg("nyxex: invalid insurance.seed_quote")
	}
	warningRatio, err := config.ParseDecimal(cfg.Insurance.WarningMarginRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("nyxex: invalid insurance.warning_margin_ratio")
	}

	ex := exchange.New(t, exchange.Config{
		Limits: exchange.Limits{
			UserOpenOrderCap:   cfg.Limits.UserOpenOrderCap,
			GlobalOpenOrderCap: cfg.Limits.GlobalOpenOrderCap,
		},
		InsuranceFundSeed:  seed,
		LiquidationRetries: cfg.Insurance.LiquidationRetries,
		WarningMarginRatio: warningRatio,
	})

	for _, mc := range cfg.Markets {
		m, err := toMarket(mc)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", mc.Symbol).Msg("nyxex: invalid market config")
		}
		if err := ex.CreateMarket(m); err != nil {
			log.Fatal().Err(err).Str("symbol", mc.Symbol).Msg("nyxex: failed to create market")
		}
	}
	ex.Start(t)

	collector := metrics.NewCollector(ex.Bus)
	collector.Start(t)

	tcp := gateway.NewTCP(cfg.Gateway.Address, cfg.Gateway.Port, ex, cfg.Gateway.Workers)
	t.Go(func() error {
		tcp.Run(ctx)
		return nil
	})

	ws := gateway.NewWS(ex.Bus)
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", ws)
	wsMux.Handle("/metrics", promhttp.Handler())
	wsServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Gateway.WSAddress, cfg.Gateway.WSPort), Handler: wsMux}
	t.Go(func() error {
		go func() {
			<-ctx.Done()
			wsServer.Close()
		}()
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("nyxex: websocket/metrics server exited")
		}
		return nil
	})

	grpcServer := grpc.NewServer()
	adminrpc.Register(grpcServer, adminrpc.New(ex.Markets))
	t.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.AdminRPC.Address, cfg.AdminRPC.Port))
		if err != nil {
			log.Error().Err(err).Msg("nyxex: admin rpc listen failed")
			return nil
		}
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("nyxex: admin rpc server exited")
		}
		return nil
	})

	log.Info().
		Str("gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Address, cfg.Gateway.Port)).
		Str("ws", fmt.Sprintf("%s:%d", cfg.Gateway.WSAddress, cfg.Gateway.WSPort)).
		Str("adminrpc", fmt.Sprintf("%s:%d", cfg.AdminRPC.Address, cfg.AdminRPC.Port)).
		Msg("nyxex running")

	<-ctx.Done()
	tcp.Shutdown()
	_ = t.Wait()
}

func toMarket(mc config.MarketConfig) (market.Market, error) {
	tick, err := config.ParseDecimal(mc.TickSize)
	if err != nil {
		return market.Market{}, err
	}
	step, err := config.ParseDecimal(mc.StepSize)
	if err != nil {
		return market.Market{}, err
	}
	minNotional, err := config.ParseDecimal(mc.MinNotional)
	if err != nil {
		return market.Market{}, err
	}

	tiers := make([]market.LeverageTier, 0, len(mc.Tiers))
	for _, tc := range mc.Tiers {
		minN, err := config.ParseDecimal(tc.MinNotional)
		if err != nil {
			return market.Market{}, err
		}
		maxN, err := config.ParseDecimal(tc.MaxNotional)
		if err != nil {
			return market.Market{}, err
		}
		mmr, err := config.ParseDecimal(tc.MaintenanceMarginRate)
		if err != nil {
			return market.Market{}, err
		}
		tiers = append(tiers, market.LeverageTier{
			MinNotional:           minN,
			MaxNotional:           maxN,
			MaintenanceMarginRate: mmr,
			MaxLeverage:           tc.MaxLeverage,
		})
	}

	return market.Market{
		Symbol:      common.Symbol(mc.Symbol),
		BaseAsset:   mc.BaseAsset,
		QuoteAsset:  mc.QuoteAsset,
		TickSize:    tick,
		StepSize:    step,
		MinNotional: minNotional,
		AllowedOrderTypes: map[common.OrderType]bool{
			common.Market:       true,
			common.Limit:        true,
			common.Stop:         true,
			common.StopLimit:    true,
			common.TakeProfit:   true,
			common.TrailingStop: true,
		},
		MakerFeeRate: decimalx.FromScaledInt(mc.MakerFeeBps, 4),
		TakerFeeRate: decimalx.FromScaledInt(mc.TakerFeeBps, 4),
		MaxLeverage:  mc.MaxLeverage,
		Tiers:        tiers,
	}, nil
}
