package driver

import (
	"encoding/json"
	"fmt"

	"pagelens/internal/domain"
)

// Collector limits. Keep the in-page payload bounded on pathological pages;
// the parser applies its own, tighter text limits afterwards.
const (
	maxCollectNodes = 5000
	maxCollectText  = 300
)

// snapshotJS walks the live document and returns a JSON string matching
// domain.PageSnapshot's node contract. It must stay in step with the static
// builder in internal/parser: same tag sets, same child-index paths counting
// every element child, same ancestry hops, same text rules. Style-dependent
// facts (visibility, cursor, extent) are resolved here, in the browser, so
// the parser stays a pure function of the snapshot.
var snapshotJS = fmt.Sprintf(`(function() {
  var MAX_NODES = %d;
  var MAX_TEXT = %d;

  var contentTags = {div:1,p:1,h1:1,h2:1,h3:1,h4:1,h5:1,h6:1,li:1,th:1,td:1,tr:1,table:1,label:1,caption:1,span:1,strong:1,b:1,em:1,i:1,u:1,small:1,mark:1,dl:1,dt:1,dd:1,img:1};
  var interactiveTags = {a:1,button:1,input:1,select:1,textarea:1};
  var skipTags = {script:1,style:1,head:1,template:1,noscript:1};

  var nodes = [];
  var skipped = 0;
  var full = false;

  function clip(s) {
    if (!s) return '';
    s = s.replace(/\s+/g, ' ').trim();
    return s.length > MAX_TEXT ? s.substring(0, MAX_TEXT) : s;
  }

  function directText(el) {
    var out = '';
    for (var i = 0; i < el.childNodes.length; i++) {
      var ch = el.childNodes[i];
      if (ch.nodeType === 3) out += ch.textContent || '';
    }
    return clip(out);
  }

  function childrenText(el) {
    var parts = [];
    for (var i = 0; i < el.children.length; i++) {
      var ch = el.children[i];
      var tag = ch.tagName.toLowerCase();
      if (tag === 'script' || tag === 'style') continue;
      var t = directText(ch);
      if (t) parts.push(t);
    }
    return clip(parts.join(' '));
  }

  function collectCells(el) {
    var cells = [];
    function visit(node) {
      for (var i = 0; i < node.children.length; i++) {
        var ch = node.children[i];
        var tag = ch.tagName.toLowerCase();
        if (tag === 'td' || tag === 'th') {
          cells.push({
            text: clip(ch.textContent || ''),
            label: ch.getAttribute('data-label') || '',
            title: ch.getAttribute('title') || ''
          });
          continue;
        }
        visit(ch);
      }
    }
    visit(el);
    return cells;
  }

  function attrMap(el) {
    var attrs = {};
    for (var i = 0; i < el.attributes.length; i++) {
      var a = el.attributes[i];
      var v = a.value || '';
      attrs[a.name.toLowerCase()] = v.length > MAX_TEXT ? v.substring(0, MAX_TEXT) : v;
    }
    return attrs;
  }

  function buildNode(el, tag, attrs, path, ancestry) {
    var st = window.getComputedStyle(el);
    var displayNone = st.display === 'none';
    var hasExtent = el.offsetWidth > 0 || el.offsetHeight > 0;
    var visible = !displayNone && st.visibility !== 'hidden' &&
      el.offsetWidth > 0 && el.offsetHeight > 0;

    var text = directText(el);
    if (tag === 'img' && !text) text = clip(el.getAttribute('alt') || '');

    var node = {
      tag: tag,
      attrs: attrs,
      text: text,
      path: path,
      visible: visible,
      display_none: displayNone,
      has_extent: hasExtent,
      cursor_hint: st.cursor === 'pointer',
      has_handler: typeof el.onclick === 'function' || el.hasAttribute('onclick'),
      editable: el.isContentEditable === true,
      ancestry: ancestry.length > 5 ? ancestry.slice(ancestry.length - 5) : ancestry
    };
    if (!text) node.children_text = childrenText(el);
    if (tag === 'tr') node.cells = collectCells(el);
    return node;
  }

  function walkChildren(parent, path, ancestry) {
    if (full) return;

    var tagTotals = {};
    for (var i = 0; i < parent.children.length; i++) {
      var t = parent.children[i].tagName.toLowerCase();
      tagTotals[t] = (tagTotals[t] || 0) + 1;
    }

    var tagSeen = {};
    for (var idx = 0; idx < parent.children.length; idx++) {
      if (full) return;
      var el = parent.children[idx];
      var tag = el.tagName.toLowerCase();
      tagSeen[tag] = (tagSeen[tag] || 0) + 1;
      if (skipTags[tag]) continue;

      try {
        var attrs = attrMap(el);
        var hop = {
          tag: tag,
          id: attrs.id || '',
          'class': attrs['class'] || '',
          role: attrs.role || '',
          child: idx + 1,
          same_tag: tagTotals[tag],
          tag_index: tagSeen[tag]
        };
        var childPath = path.concat([idx]);
        var childAncestry = ancestry.concat([hop]);

        if (contentTags[tag] || interactiveTags[tag]) {
          if (nodes.length >= MAX_NODES) { full = true; skipped++; return; }
          nodes.push(buildNode(el, tag, attrs, childPath, childAncestry));
        }
        walkChildren(el, childPath, childAncestry);
      } catch (e) {
        skipped++;
      }
    }
  }

  walkChildren(document.documentElement, [], []);

  return JSON.stringify({
    url: location.href,
    title: document.title,
    nodes: nodes,
    skipped: skipped
  });
})()`, maxCollectNodes, maxCollectText)

// stealthJS runs before every document loads and hides the most common
// automation fingerprints.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', { get: function() { return undefined; } });
Object.defineProperty(navigator, 'languages', { get: function() { return ['en-US', 'en']; } });
Object.defineProperty(navigator, 'plugins', { get: function() { return [1, 2, 3, 4, 5]; } });
window.chrome = window.chrome || { runtime: {} };
`

// stampRefsJS builds the script that stamps ref and generation markers into
// the live DOM. Stamps address elements by the same child-index paths the
// collector recorded, so a structurally changed document simply fails to
// stamp rather than marking the wrong node.
func stampRefsJS(gen string, stamps []domain.RefStamp) (string, error) {
	encoded, err := json.Marshal(stamps)
	if err != nil {
		return "", fmt.Errorf("encode stamps: %w", err)
	}
	return fmt.Sprintf(`(function() {
  var stamps = %s;
  var old = document.querySelectorAll('[%s]');
  for (var i = 0; i < old.length; i++) old[i].removeAttribute('%s');
  document.documentElement.setAttribute('%s', %q);
  var stamped = 0;
  for (var s = 0; s < stamps.length; s++) {
    var el = document.documentElement;
    var path = stamps[s].path || [];
    for (var d = 0; d < path.length; d++) {
      el = el.children[path[d]];
      if (!el) break;
    }
    if (el && el !== document.documentElement) {
      el.setAttribute('%s', String(stamps[s].ref));
      stamped++;
    }
  }
  return stamped;
})()`, encoded, domain.RefAttr, domain.RefAttr, domain.GenAttr, gen, domain.RefAttr), nil
}

// resolveRefJS builds the script that checks a stamped ref against the live
// document. It returns "ok", "gen" (generation superseded), "missing", or the
// tag now occupying the stamp.
func resolveRefJS(gen string, ref int, wantTag string) string {
	return fmt.Sprintf(`(function() {
  if (document.documentElement.getAttribute('%s') !== %q) return 'gen';
  var el = document.querySelector('[%s="%d"]');
  if (!el) return 'missing';
  var tag = el.tagName.toLowerCase();
  if (tag !== %q) return tag;
  return 'ok';
})()`, domain.GenAttr, gen, domain.RefAttr, ref, wantTag)
}

// refSelector is the CSS selector for a stamped ref.
func refSelector(ref int) string {
	return fmt.Sprintf(`[%s="%d"]`, domain.RefAttr, ref)
}

// existsJS builds a non-waiting existence probe for a target.
func existsJS(t domain.Target) string {
	if t.XPath {
		return fmt.Sprintf(`(function() {
  try {
    var r = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
    return r.singleNodeValue !== null;
  } catch (e) { return false; }
})()`, t.Selector)
	}
	return fmt.Sprintf(`(function() {
  try { return document.querySelector(%q) !== null; } catch (e) { return false; }
})()`, t.Selector)
}
