// Package config loads per-role settings. Flags are authoritative; every
// flag also reads from a KEYDIR_-prefixed environment variable through
// viper, so deployments can configure processes without command lines.
package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dreamware/keydir/internal/wire"
)

// Master configures the master process.
type Master struct {
	Host string
	Port uint16
}

// Worker configures a worker process: its own endpoint plus the master's.
type Worker struct {
	Host       string
	MasterHost string
	Port       uint16
	MasterPort uint16
}

// Client configures a client process: its own endpoint, the master's, and
// the entry worker it submits requests through.
type Client struct {
	Host       string
	MasterHost string
	WorkerHost string
	Port       uint16
	MasterPort uint16
	WorkerPort uint16
}

// Self returns the master's bind address.
func (c Master) Self() wire.NetAddress { return wire.NetAddress{Host: c.Host, Port: c.Port} }

// Self returns the worker's bind address.
func (c Worker) Self() wire.NetAddress { return wire.NetAddress{Host: c.Host, Port: c.Port} }

// Master returns the master endpoint the worker coordinates through.
func (c Worker) Master() wire.NetAddress {
	return wire.NetAddress{Host: c.MasterHost, Port: c.MasterPort}
}

// Self returns the client's bind address.
func (c Client) Self() wire.NetAddress { return wire.NetAddress{Host: c.Host, Port: c.Port} }

// Master returns the master endpoint.
func (c Client) Master() wire.NetAddress {
	return wire.NetAddress{Host: c.MasterHost, Port: c.MasterPort}
}

// Worker returns the entry worker endpoint.
func (c Client) Worker() wire.NetAddress {
	return wire.NetAddress{Host: c.WorkerHost, Port: c.WorkerPort}
}

// newViper builds a viper bound to fs with KEYDIR_ env fallback, so
// --master-host can also arrive as KEYDIR_MASTER_HOST.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("KEYDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	return v, nil
}

func port(v *viper.Viper, key string) (uint16, error) {
	p := v.GetInt(key)
	if p <= 0 || p > math.MaxUint16 {
		return 0, fmt.Errorf("config: %s must be in (0, %d], got %d", key, math.MaxUint16, p)
	}
	return uint16(p), nil
}

// BindMasterFlags declares the master's flags on fs.
func BindMasterFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "host this process binds and advertises")
	fs.Int("port", 10042, "UDP port this process binds")
}

// LoadMaster resolves the master config from fs and the environment.
func LoadMaster(fs *pflag.FlagSet) (Master, error) {
	v, err := newViper(fs)
	if err != nil {
		return Master{}, err
	}
	p, err := port(v, "port")
	if err != nil {
		return Master{}, err
	}
	return Master{Host: v.GetString("host"), Port: p}, nil
}

// BindWorkerFlags declares the worker's flags on fs.
func BindWorkerFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "host this process binds and advertises")
	fs.Int("port", 10043, "UDP port this process binds")
	fs.String("master-host", "127.0.0.1", "master host")
	fs.Int("master-port", 10042, "master UDP port")
}

// LoadWorker resolves the worker config from fs and the environment.
func LoadWorker(fs *pflag.FlagSet) (Worker, error) {
	v, err := newViper(fs)
	if err != nil {
		return Worker{}, err
	}
	p, err := port(v, "port")
	if err != nil {
		return Worker{}, err
	}
	mp, err := port(v, "master-port")
	if err != nil {
		return Worker{}, err
	}
	return Worker{
		Host:       v.GetString("host"),
		Port:       p,
		MasterHost: v.GetString("master-host"),
		MasterPort: mp,
	}, nil
}

// BindClientFlags declares the client's flags on fs.
func BindClientFlags(fs *pflag.FlagSet) {
	fs.String("host", "127.0.0.1", "host this process binds and advertises")
	fs.Int("port", 10050, "UDP port this process binds")
	fs.String("master-host", "127.0.0.1", "master host")
	fs.Int("master-port", 10042, "master UDP port")
	fs.String("worker-host", "127.0.0.1", "entry worker host")
	fs.Int("worker-port", 10043, "entry worker UDP port")
}

// LoadClient resolves the client config from fs and the environment.
func LoadClient(fs *pflag.FlagSet) (Client, error) {
	v, err := newViper(fs)
	if err != nil {
		return Client{}, err
	}
	p, err := port(v, "port")
	if err != nil {
		return Client{}, err
	}
	mp, err := port(v, "master-port")
	if err != nil {
		return Client{}, err
	}
	wp, err := port(v, "worker-port")
	if err != nil {
		return Client{}, err
	}
	return Client{
		Host:       v.GetString("host"),
		Port:       p,
		MasterHost: v.GetString("master-host"),
		MasterPort: mp,
		WorkerHost: v.GetString("worker-host"),
		WorkerPort: wp,
	}, nil
}
