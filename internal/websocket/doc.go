// Package websocket streams optimizer progress to a single peer over a
// gorilla/websocket connection. Each Session owns one write pump that
// serializes outbound JSON frames and keeps the connection alive with pings.
package websocket
