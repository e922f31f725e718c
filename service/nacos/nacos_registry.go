package nacos

import (
	"sync"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Naming is the subset of the nacos naming client the registry uses.
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

const defaultCluster = "DEFAULT"

// Registry announces this presence node so peers and gateways can find it.
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string
	Metadata    map[string]string

	client     Naming
	mu         sync.Mutex
	registered bool
}

func NewRegistry(client Naming, serviceName, ip string, port uint64) *Registry {
	return &Registry{
		ServiceName: serviceName,
		IP:          ip,
		Port:        port,
		Group:       "DEFAULT_GROUP",
		Metadata:    map[string]string{},
		client:      client,
	}
}

func (r *Registry) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: defaultCluster,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    r.Metadata,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName)
	}
	if !ok {
		return errs.New("nacos register returned false", "service", r.ServiceName).Wrap()
	}
	r.registered = true
	logger.Info("nacos: registered", zap.String("service", r.ServiceName), zap.String("ip", r.IP), zap.Uint64("port", r.Port))
	return nil
}

func (r *Registry) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     defaultCluster,
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", r.ServiceName)
	}
	r.registered = false
	return nil
}
