// Package node assembles the boundary: it opens the database, wires the
// vault, verifier, registry, admin, pairing and proxy components together,
// and manages the lifecycle of the HTTP and monitoring services.
package node

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dhannusch/pincer/admin"
	"github.com/dhannusch/pincer/auth"
	"github.com/dhannusch/pincer/cmd/pincer/flags"
	"github.com/dhannusch/pincer/db"
	"github.com/dhannusch/pincer/monitoring/prometheus"
	"github.com/dhannusch/pincer/pairing"
	"github.com/dhannusch/pincer/proxy"
	"github.com/dhannusch/pincer/registry"
	"github.com/dhannusch/pincer/runtime"
	"github.com/dhannusch/pincer/server"
	"github.com/dhannusch/pincer/vault"
)

var log = logrus.WithField("prefix", "node")

// BoundaryNode handles the services running the egress boundary. It manages
// the lifecycle of the entire system and registers services to a service
// registry.
type BoundaryNode struct {
	cliCtx   *cli.Context
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
}

// New creates a new node instance, sets up configuration options, and
// registers every required service.
func New(cliCtx *cli.Context) (*BoundaryNode, error) {
	node := &BoundaryNode{
		cliCtx:   cliCtx,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	if err := node.startDB(cliCtx); err != nil {
		return nil, err
	}
	if err := node.registerBoundaryService(cliCtx); err != nil {
		return nil, err
	}
	if !cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		if err := node.registerPrometheusService(cliCtx); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (n *BoundaryNode) startDB(cliCtx *cli.Context) error {
	dataDir := cliCtx.String(flags.DataDirFlag.Name)
	if dataDir == "" {
		return fmt.Errorf("no data directory configured, set --%s", flags.DataDirFlag.Name)
	}
	boundaryDB, err := db.NewDB(dataDir)
	if err != nil {
		return err
	}
	if cliCtx.Bool(flags.ClearDB.Name) {
		log.Warning("Removing database")
		if err := boundaryDB.ClearDB(); err != nil {
			return err
		}
		if err := boundaryDB.Close(); err != nil {
			return err
		}
		boundaryDB, err = db.NewDB(dataDir)
		if err != nil {
			return err
		}
	}
	log.WithField("database-path", boundaryDB.DatabasePath()).Info("Checking DB")
	n.db = boundaryDB
	return nil
}

func (n *BoundaryNode) registerBoundaryService(cliCtx *cli.Context) error {
	kek := cliCtx.String(flags.KekFlag.Name)
	if kek == "" {
		return fmt.Errorf("a key-encryption key is required, set --%s or %s", flags.KekFlag.Name, "PINCER_KEK")
	}

	secretVault := vault.New(n.db, kek)
	adapterRegistry, err := registry.New(n.db, secretVault)
	if err != nil {
		return err
	}

	svc := server.New(&server.Config{
		Host:           cliCtx.String(flags.HTTPHost.Name),
		Port:           strconv.Itoa(cliCtx.Int(flags.HTTPPort.Name)),
		AllowedOrigins: cliCtx.StringSlice(flags.CorsDomainFlag.Name),
		Database:       n.db,
		Verifier:       auth.NewVerifier(n.db, secretVault),
		Vault:          secretVault,
		Registry:       adapterRegistry,
		Admin:          admin.NewManager(n.db, cliCtx.String(flags.BootstrapTokenFlag.Name)),
		Pairing:        pairing.NewStore(n.db),
		Proxy:          proxy.New(adapterRegistry, secretVault),
	})
	return n.services.RegisterService(svc)
}

func (n *BoundaryNode) registerPrometheusService(cliCtx *cli.Context) error {
	logrus.AddHook(prometheus.NewLogrusCollector())
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(flags.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
	)
	return n.services.RegisterService(service)
}

// Start the boundary node and kick off every registered service.
func (n *BoundaryNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the boundary node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *BoundaryNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping boundary node")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	close(n.stop)
}
