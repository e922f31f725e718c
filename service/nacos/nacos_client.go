package nacos

import (
	"PPresence/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

type Config struct {
	Host        string
	Port        uint64
	NamespaceID string
	Username    string
	Password    string
	LogDir      string
	CacheDir    string
	LogLevel    string
	TimeoutMs   uint64
}

func (c Config) params() vo.NacosClientParam {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(c.NamespaceID),
		constant.WithTimeoutMs(c.TimeoutMs),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(c.LogLevel),
		constant.WithCacheDir(c.CacheDir),
		constant.WithLogDir(c.LogDir),
		constant.WithUsername(c.Username),
		constant.WithPassword(c.Password),
	)
	return vo.NacosClientParam{
		ClientConfig:  cc,
		ServerConfigs: []constant.ServerConfig{*constant.NewServerConfig(c.Host, c.Port)},
	}
}

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	cli, err := clients.NewConfigClient(c.params())
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client", "host", c.Host)
	}
	return cli, nil
}

func NewNamingClient(c Config) (naming_client.INamingClient, error) {
	cli, err := clients.NewNamingClient(c.params())
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client", "host", c.Host)
	}
	return cli, nil
}
