package configuration

type ConfigProvider interface {
	GetApplication() *AppConfigurationProperties
	GetNode() *NodeConfigurationProperties
	GetTransport() *TransportConfigurationProperties
	GetCluster() *ClusterConfigurationProperties
	GetMetrics() *MetricsConfigurationProperties
}

type AppConfigProvider struct {
	config *Properties
}

func NewProvider(cfg *Properties) *AppConfigProvider {
	return &AppConfigProvider{config: cfg}
}

func (c *AppConfigProvider) GetApplication() *AppConfigurationProperties {
	return &c.config.App
}

func (c *AppConfigProvider) GetNode() *NodeConfigurationProperties {
	return &c.config.Node
}

func (c *AppConfigProvider) GetTransport() *TransportConfigurationProperties {
	return &c.config.Transport
}

func (c *AppConfigProvider) GetCluster() *ClusterConfigurationProperties {
	return &c.config.Cluster
}

func (c *AppConfigProvider) GetMetrics() *MetricsConfigurationProperties {
	return &c.config.Metrics
}
