package clickhouse

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/depyronick/clickhouse-client/utils"
)

// Protocol selects the scheme used to reach the ClickHouse HTTP interface.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Format identifies a ClickHouse wire format. Only the JSON envelope formats
// are decodable by this client; JSONEachRow is used for the insert body.
type Format string

const (
	// FormatJSON is the default result format: a JSON envelope whose "data"
	// field holds one object per row, keyed by column name.
	FormatJSON Format = "JSON"

	// FormatJSONCompact is the same envelope with rows encoded as arrays in
	// column order. The database/sql driver uses it for positional scanning.
	FormatJSONCompact Format = "JSONCompact"

	// FormatJSONEachRow is the newline-delimited insert format. It has no
	// envelope and is not decodable as a query result format.
	FormatJSONEachRow Format = "JSONEachRow"
)

// Compression selects the response compression negotiated with the server.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionDeflate
	CompressionBrotli
)

// compressionEncodings maps a Compression to its Accept-Encoding token. The
// reverse direction maps a response Content-Encoding back to the method the
// decoder must apply.
var compressionEncodings = utils.NewBiMap(map[Compression]string{
	CompressionGzip:    "gzip",
	CompressionDeflate: "deflate",
	CompressionBrotli:  "br",
})

// Default connection settings applied by Options.resolve.
const (
	DefaultHost      = "localhost"
	DefaultHTTPPort  = 8123
	DefaultHTTPSPort = 8443
	DefaultUsername  = "default"
	DefaultDatabase  = "default"
)

// Options is the user-supplied client configuration. The zero value is valid
// and connects to http://localhost:8123 as the default user.
type Options struct {
	// Host is the ClickHouse server hostname. Defaults to "localhost".
	Host string

	// Port is the HTTP interface port. Defaults to 8123 for HTTP and 8443
	// for HTTPS.
	Port int

	// Protocol is the connection scheme. Defaults to ProtocolHTTP.
	Protocol Protocol

	// Username and Password authenticate via the X-ClickHouse-User and
	// X-ClickHouse-Key headers. Username defaults to "default".
	Username string
	Password string

	// Database is sent as the "database" query parameter on every request.
	// Defaults to "default".
	Database string

	// Format is the result format appended to query statements. Defaults to
	// FormatJSON. Formats without a decoder fail at call time with
	// UnsupportedFormatError.
	Format Format

	// Compression enables server-side response compression and sets the
	// matching Accept-Encoding header. Defaults to CompressionNone.
	Compression Compression

	// HTTPClient issues the underlying requests. Defaults to
	// http.DefaultClient. Timeouts and pooling belong to this client; the
	// core adds none of its own except for Ping.
	HTTPClient *http.Client

	// Logger receives one event per asynchronous failure. Defaults to the
	// global zerolog logger.
	Logger *zerolog.Logger

	// RequestOptions are applied to every outgoing request, after the
	// client's own headers. Auth helpers such as chauth/kerberos and
	// chauth/oauth2 hook in here.
	RequestOptions []RequestOption
}

// config is the effective configuration produced by resolve. It is immutable
// for the lifetime of the client, which is what makes the client safe for
// concurrent use without locking.
type config struct {
	baseURL     *url.URL
	username    string
	password    string
	database    string
	format      Format
	compression Compression
	httpClient  *http.Client
	logger      zerolog.Logger
	reqOpts     []RequestOption
}

// resolve merges o with the documented defaults. It is a pure function of o:
// resolving the same Options twice yields field-for-field identical configs.
// No validation happens here; invalid combinations surface at call time.
func (o Options) resolve() config {
	protocol := o.Protocol
	if protocol == "" {
		protocol = ProtocolHTTP
	}

	host := o.Host
	if host == "" {
		host = DefaultHost
	}

	port := o.Port
	if port == 0 {
		if protocol == ProtocolHTTPS {
			port = DefaultHTTPSPort
		} else {
			port = DefaultHTTPPort
		}
	}

	username := o.Username
	if username == "" {
		username = DefaultUsername
	}

	database := o.Database
	if database == "" {
		database = DefaultDatabase
	}

	format := o.Format
	if format == "" {
		format = FormatJSON
	}

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := log.Logger
	if o.Logger != nil {
		logger = *o.Logger
	}

	reqOpts := make([]RequestOption, len(o.RequestOptions))
	copy(reqOpts, o.RequestOptions)

	return config{
		baseURL: &url.URL{
			Scheme: string(protocol),
			Host:   host + ":" + strconv.Itoa(port),
			Path:   "/",
		},
		username:    username,
		password:    o.Password,
		database:    database,
		format:      format,
		compression: o.Compression,
		httpClient:  httpClient,
		logger:      logger,
		reqOpts:     reqOpts,
	}
}
