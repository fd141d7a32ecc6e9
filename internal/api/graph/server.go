package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/service"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	cfg      config.GraphQLConfig
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	server   *http.Server
}

const schemaString = `
type ValueCount {
  value: String!
  votes: Int!
}

type OrgVote {
  org: String!
  value: String!
  votes: Int!
  conflicted: Boolean!
}

type Result {
  locale: String!
  path: String!
  winningValue: String
  winningStatus: String!
  baselineValue: String
  baselineStatus: String!
  requiredVotes: Int!
  locked: Boolean!
  disputed: Boolean!
  abstentions: Int!
  totals: [ValueCount!]!
  orgs: [OrgVote!]!
  statusFor(org: String!): String!
}

type EffectiveValue {
  value: String
  fullPath: String!
  status: String!
  locked: Boolean!
  disputed: Boolean!
  resolved: Boolean!
}

type Vote {
  voterId: Int!
  value: String
  lastValue: String
  override: Int
  permanent: Boolean!
  type: String!
  modTime: String!
}

type StatusCount {
  status: String!
  count: Int!
}

type Summary {
  locale: String!
  paths: Int!
  byStatus: [StatusCount!]!
  disputed: Int!
  locked: Int!
  failed: Int!
  generatedAt: String!
  generatedBy: String!
}

type VoteResponse {
  success: Boolean!
  message: String!
  locked: Boolean!
  unlocked: Boolean!
  timestamp: String!
}

input VoteInput {
  locale: String!
  path: String!
  voterId: Int!
  value: String
  override: Int
  type: String
}

type Query {
  # 路径的裁决结果
  resolver(locale: String!, path: String!): Result!

  # 路径的有效值与完整路径
  value(locale: String!, path: String!): EffectiveValue!

  # 每个投票人的当前投票
  votes(locale: String!, path: String!): [Vote!]!

  # 候选值
  values(locale: String!, path: String!): [String!]!

  # 裁决明细
  resolverDump(locale: String!, path: String!): String!

  # 最近一次的locale汇总
  summary(locale: String!): Summary
}

type Mutation {
  # 投票，value为空表示弃权
  vote(input: VoteInput!): VoteResponse!

  # 弃权
  unvote(locale: String!, path: String!, voterId: Int!): VoteResponse!

  # 重新投出最近一次的取值
  revote(locale: String!, path: String!, voterId: Int!): VoteResponse!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器，gatherer为nil时使用默认注册表
func NewGraphQLServer(cfg config.GraphQLConfig, voteService *service.VoteService, gatherer prometheus.Gatherer, logger *zap.Logger) *GraphQLServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.Path == "" {
		cfg.Path = "/graphql"
	}
	resolver := NewResolver(voteService, logger)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		cfg:      cfg,
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Router GraphQL、指标与健康检查路由
func (s *GraphQLServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	graphqlHandler := gin.WrapH(s.handler)
	r.POST(s.cfg.Path, graphqlHandler)
	r.GET(s.cfg.Path, graphqlHandler)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// GraphQL Playground
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(playgroundHTML, s.cfg.Path)))
	})
	return r
}

func (s *GraphQLServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("请求完成",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Start 启动服务器，Shutdown后返回nil
func (s *GraphQLServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.server = &http.Server{Addr: addr, Handler: s.Router()}
	s.logger.Info("GraphQL服务已启动",
		zap.String("endpoint", s.cfg.Path),
		zap.String("playground", "http://localhost"+addr+"/"))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "启动GraphQL服务器失败")
	}
	return nil
}

// Shutdown 停止接受新请求并等待进行中的请求结束
func (s *GraphQLServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// playgroundHTML GraphQL Playground HTML，%s为API端点
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <title>Survey Vote GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '%s'
      })
    })</script>
</body>
</html>
`
