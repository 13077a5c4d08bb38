// Package jellypoint is a data provider that maps an ORM-style persistence
// layer onto a REST list backend such as a SharePoint site's /_api/web/lists
// endpoints.
//
// The root package holds the pieces every sub-package shares: the immutable
// Options used to reach a site, the error values returned throughout, and the
// Logger interface. The list access client itself lives in package client;
// package provider ties the client and the persistence extension points
// together.
package jellypoint
